package paper

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	orders    []domain.PaperOrder
	fills     []domain.PaperFill
	positions []domain.PaperPosition
	pnls      []domain.PaperPnL
}

func (r *memRecorder) RecordOrders(o []domain.PaperOrder)       { r.orders = append(r.orders, o...) }
func (r *memRecorder) RecordFills(f []domain.PaperFill)         { r.fills = append(r.fills, f...) }
func (r *memRecorder) RecordPositions(p []domain.PaperPosition) { r.positions = append(r.positions, p...) }
func (r *memRecorder) RecordPnL(p domain.PaperPnL)              { r.pnls = append(r.pnls, p) }

func (r *memRecorder) lastPnL(t *testing.T) domain.PaperPnL {
	t.Helper()
	require.NotEmpty(t, r.pnls)
	return r.pnls[len(r.pnls)-1]
}

func ptr(f float64) *float64 { return &f }

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func testSignal() domain.ArbSignal {
	return domain.ArbSignal{
		ID:      "sig1",
		EventID: "ev1",
		Kind:    domain.SignalBuyAllYes,
		AsOf:    testNow,
		Cost:    0.45,
		Legs: []domain.SignalLeg{
			{MarketID: "m1", AssetID: "yes-1", Outcome: domain.OutcomeYes, AskPrice: 0.20, AsOf: testNow},
			{MarketID: "m2", AssetID: "yes-2", Outcome: domain.OutcomeYes, AskPrice: 0.25, AsOf: testNow},
		},
	}
}

func testQuotes(asOf time.Time) map[string]domain.Quote {
	return map[string]domain.Quote{
		"yes-1": {AssetID: "yes-1", BestBid: ptr(0.18), BestAsk: ptr(0.20), AsOf: asOf},
		"yes-2": {AssetID: "yes-2", BestBid: ptr(0.23), BestAsk: ptr(0.25), AsOf: asOf},
	}
}

func newSim(rec Recorder) *Simulator {
	return NewSimulator(Config{
		SizePerLeg:     10,
		FeeRate:        0.002,
		MaxOrderAge:    30 * time.Second,
		MaxOpenBaskets: 1,
	}, rec, slog.New(slog.DiscardHandler))
}

func TestOnSignalFillsAtAsk(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	require.Len(t, rec.orders, 2)
	for _, o := range rec.orders {
		assert.Equal(t, domain.PaperOrderStatusFilled, o.Status)
		assert.Equal(t, domain.OrderSideBuy, o.Side)
		assert.Equal(t, 10.0, o.Quantity)
	}

	require.Len(t, rec.fills, 2)
	assert.Equal(t, 0.20, rec.fills[0].Price)
	assert.InDelta(t, 0.20*10*0.002, rec.fills[0].Fee, 1e-9)

	require.Len(t, rec.positions, 2)
	assert.Equal(t, 0.20, rec.positions[0].AvgPrice)
	assert.Equal(t, 10.0, rec.positions[0].Quantity)

	pnl := rec.lastPnL(t)
	totalFees := (0.20 + 0.25) * 10 * 0.002
	assert.InDelta(t, -totalFees, pnl.RealizedPnL, 1e-9)
	assert.InDelta(t, totalFees, pnl.FeesPaid, 1e-9)
	// Unrealized marks against the mid.
	assert.InDelta(t, (0.19-0.20)*10+(0.24-0.25)*10, pnl.UnrealizedPnL, 1e-9)

	assert.Equal(t, 1, sim.OpenBaskets("ev1"))
}

func TestOnSignalStaleQuoteCancelsBasket(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	quotes := testQuotes(testNow)
	q := quotes["yes-2"]
	q.AsOf = testNow.Add(-time.Minute) // beyond MaxOrderAge
	quotes["yes-2"] = q

	sim.OnSignal(testSignal(), quotes, testNow)

	require.Len(t, rec.orders, 2)
	for _, o := range rec.orders {
		assert.Equal(t, domain.PaperOrderStatusCancelled, o.Status)
	}
	assert.Empty(t, rec.fills)
	assert.Empty(t, rec.positions)
	assert.Equal(t, 0, sim.OpenBaskets("ev1"))
}

func TestOnSignalRespectsBasketCap(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)
	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	assert.Equal(t, 1, sim.OpenBaskets("ev1"))
	assert.Len(t, rec.orders, 2)
}

func TestOnCloseRealizesPnL(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	// Prices moved up: bids now above entry asks.
	later := testNow.Add(5 * time.Second)
	quotes := map[string]domain.Quote{
		"yes-1": {AssetID: "yes-1", BestBid: ptr(0.30), BestAsk: ptr(0.32), AsOf: later},
		"yes-2": {AssetID: "yes-2", BestBid: ptr(0.35), BestAsk: ptr(0.37), AsOf: later},
	}
	sim.OnClose("ev1", domain.SignalBuyAllYes, quotes, later)

	assert.Equal(t, 0, sim.OpenBaskets("ev1"))

	pnl := rec.lastPnL(t)
	gross := (0.30-0.20)*10 + (0.35-0.25)*10
	entryFees := (0.20 + 0.25) * 10 * 0.002
	exitFees := (0.30 + 0.35) * 10 * 0.002
	assert.InDelta(t, gross-entryFees-exitFees, pnl.RealizedPnL, 1e-9)
	assert.InDelta(t, entryFees+exitFees, pnl.FeesPaid, 1e-9)
	// Positions are flat after close-out.
	assert.InDelta(t, 0, pnl.UnrealizedPnL, 1e-9)

	// Sell orders recorded for the close.
	var sells int
	for _, o := range rec.orders {
		if o.Side == domain.OrderSideSell {
			sells++
		}
	}
	assert.Equal(t, 2, sells)
}

func TestOnCloseMissingBidLiquidatesAtZero(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	quotes := testQuotes(testNow)
	q := quotes["yes-1"]
	q.BestBid = nil
	quotes["yes-1"] = q

	sim.OnClose("ev1", domain.SignalBuyAllYes, quotes, testNow)

	pnl := rec.lastPnL(t)
	gross := (0.0-0.20)*10 + (0.23-0.25)*10
	entryFees := (0.20 + 0.25) * 10 * 0.002
	exitFees := 0.23 * 10 * 0.002
	assert.InDelta(t, gross-entryFees-exitFees, pnl.RealizedPnL, 1e-9)
}

func TestMarkToMarketAtMid(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	asks := []float64{0.20, 0.25, 0.22, 0.18}
	sig := domain.ArbSignal{ID: "sig4", EventID: "ev4", Kind: domain.SignalBuyAllYes, AsOf: testNow, Cost: 0.85}
	quotes := map[string]domain.Quote{}
	for i, ask := range asks {
		asset := fmt.Sprintf("yes-%d", i)
		sig.Legs = append(sig.Legs, domain.SignalLeg{
			MarketID: fmt.Sprintf("m%d", i),
			AssetID:  asset,
			Outcome:  domain.OutcomeYes,
			AskPrice: ask,
			AsOf:     testNow,
		})
		quotes[asset] = domain.Quote{AssetID: asset, BestBid: ptr(ask - 0.02), BestAsk: ptr(ask), AsOf: testNow}
	}
	sim.OnSignal(sig, quotes, testNow)

	// Books move so the mids sit at [0.30, 0.30, 0.25, 0.25].
	later := testNow.Add(2 * time.Second)
	for i, mid := range []float64{0.30, 0.30, 0.25, 0.25} {
		asset := fmt.Sprintf("yes-%d", i)
		quotes[asset] = domain.Quote{AssetID: asset, BestBid: ptr(mid - 0.01), BestAsk: ptr(mid + 0.01), AsOf: later}
	}
	sim.MarkToMarket("ev4", quotes, later)

	// Σ qty×(mid − avg): (0.10 + 0.05 + 0.03 + 0.07) × 10.
	assert.InDelta(t, 2.5, rec.lastPnL(t).UnrealizedPnL, 1e-9)
}

func TestMarkPriceFallbacks(t *testing.T) {
	assert.Equal(t, 0.19, markPrice(domain.Quote{BestBid: ptr(0.18), BestAsk: ptr(0.20)}))
	assert.Equal(t, 0.18, markPrice(domain.Quote{BestBid: ptr(0.18)}))
	assert.Equal(t, 0.20, markPrice(domain.Quote{BestAsk: ptr(0.20)}))
	assert.Equal(t, 0.0, markPrice(domain.Quote{}))
}

func TestCapitalSizingCapsQuantity(t *testing.T) {
	rec := &memRecorder{}
	sim := NewSimulator(Config{
		SizingMode:     SizingCapital,
		SizePerLeg:     10,
		MaxCapital:     2.25,
		FeeRate:        0.002,
		MaxOrderAge:    30 * time.Second,
		MaxOpenBaskets: 1,
	}, rec, slog.New(slog.DiscardHandler))

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	// Basket costs 0.45 per unit: 2.25 of capital buys 5 per leg.
	require.Len(t, rec.orders, 2)
	for _, o := range rec.orders {
		assert.Equal(t, 5.0, o.Quantity)
	}

	// Close-out unwinds the capped quantity, not the configured fixed size.
	sim.OnClose("ev1", domain.SignalBuyAllYes, testQuotes(testNow), testNow)
	for _, o := range rec.orders {
		if o.Side == domain.OrderSideSell {
			assert.Equal(t, 5.0, o.Quantity)
		}
	}
}

func TestCapitalSizingKeepsFixedSizeWhenFunded(t *testing.T) {
	rec := &memRecorder{}
	sim := NewSimulator(Config{
		SizingMode:     SizingCapital,
		SizePerLeg:     10,
		MaxCapital:     100,
		FeeRate:        0.002,
		MaxOrderAge:    30 * time.Second,
		MaxOpenBaskets: 1,
	}, rec, slog.New(slog.DiscardHandler))

	sim.OnSignal(testSignal(), testQuotes(testNow), testNow)

	require.Len(t, rec.orders, 2)
	for _, o := range rec.orders {
		assert.Equal(t, 10.0, o.Quantity)
	}
}

func TestOnCloseWithoutOpenBasketIsNoop(t *testing.T) {
	rec := &memRecorder{}
	sim := newSim(rec)

	sim.OnClose("ev1", domain.SignalBuyAllYes, testQuotes(testNow), testNow)
	assert.Empty(t, rec.orders)
	assert.Empty(t, rec.pnls)
}
