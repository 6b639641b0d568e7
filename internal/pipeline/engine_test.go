package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/gmparb/internal/arb"
	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/paper"
	"github.com/alanyoungcy/gmparb/internal/pricing"
	"github.com/alanyoungcy/gmparb/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGateway struct {
	mu      sync.Mutex
	ticks   []domain.PriceTick
	signals []domain.ArbSignal
}

func (g *memGateway) EnqueueQuote(_ domain.Quote, tick domain.PriceTick) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ticks = append(g.ticks, tick)
}

func (g *memGateway) EnqueueSignals(signals []domain.ArbSignal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signals = append(g.signals, signals...)
}

func (g *memGateway) tickCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ticks)
}

func (g *memGateway) signalCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.signals)
}

type memRecorder struct {
	mu     sync.Mutex
	orders []domain.PaperOrder
}

func (r *memRecorder) RecordOrders(o []domain.PaperOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o...)
}

func (r *memRecorder) RecordFills([]domain.PaperFill)         {}
func (r *memRecorder) RecordPositions([]domain.PaperPosition) {}
func (r *memRecorder) RecordPnL(domain.PaperPnL)              {}

func (r *memRecorder) sides() (buys, sells int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Side == domain.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}

func ptr(f float64) *float64 { return &f }

func testSnapshot() watch.Snapshot {
	markets := []domain.Market{
		{ID: "m1", EventID: "ev1", Status: domain.MarketStatusActive, YesAssetID: "yes-1", NoAssetID: "no-1"},
		{ID: "m2", EventID: "ev1", Status: domain.MarketStatusActive, YesAssetID: "yes-2", NoAssetID: "no-2"},
	}
	snap := watch.Snapshot{
		Markets: map[string][]domain.Market{"ev1": markets},
		Refs:    make(map[string]watch.AssetRef),
		Assets:  []string{"no-1", "no-2", "yes-1", "yes-2"},
	}
	for _, m := range markets {
		snap.Refs[m.YesAssetID] = watch.AssetRef{EventID: "ev1", MarketID: m.ID, Outcome: domain.OutcomeYes}
		snap.Refs[m.NoAssetID] = watch.AssetRef{EventID: "ev1", MarketID: m.ID, Outcome: domain.OutcomeNo}
	}
	return snap
}

func newTestEngine(gw *memGateway, rec *memRecorder) *Engine {
	logger := slog.New(slog.DiscardHandler)
	agg := pricing.NewAggregator(nil, logger)
	return NewEngine(
		Config{MaxQuoteAge: time.Minute, PaperEnabled: true},
		arb.Config{FeeRate: 0.002, MinEdge: 0},
		paper.Config{SizePerLeg: 10, FeeRate: 0.002, MaxOrderAge: time.Minute, MaxOpenBaskets: 1},
		agg, gw, rec, logger,
	)
}

func quote(assetID string, bid, ask float64, asOf time.Time) domain.Quote {
	return domain.Quote{AssetID: assetID, BestBid: ptr(bid), BestAsk: ptr(ask), AsOf: asOf, Source: "ws"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestQuoteFlowToSignalAndSimulation(t *testing.T) {
	gw := &memGateway{}
	rec := &memRecorder{}
	eng := newTestEngine(gw, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	eng.OnWatchChange(testSnapshot(), nil)

	now := time.Now().UTC()
	// A qualifying buy-all-YES basket; NO side priced out of range.
	eng.HandleQuote(quote("yes-1", 0.18, 0.20, now))
	eng.HandleQuote(quote("yes-2", 0.23, 0.25, now))
	eng.HandleQuote(quote("no-1", 0.78, 0.80, now))
	eng.HandleQuote(quote("no-2", 0.73, 0.75, now))

	waitFor(t, func() bool { return gw.signalCount() == 1 })
	waitFor(t, func() bool {
		buys, _ := rec.sides()
		return buys == 2
	})
	assert.Equal(t, 4, gw.tickCount())

	// Condition exits: basket closes with sell orders.
	eng.HandleQuote(quote("yes-1", 0.88, 0.90, now.Add(time.Second)))
	waitFor(t, func() bool {
		_, sells := rec.sides()
		return sells == 2
	})
	// No re-emission while the condition is out.
	assert.Equal(t, 1, gw.signalCount())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRejectedAndUnwatchedQuotesCauseNoWork(t *testing.T) {
	gw := &memGateway{}
	rec := &memRecorder{}
	eng := newTestEngine(gw, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	eng.OnWatchChange(testSnapshot(), nil)

	now := time.Now().UTC()
	eng.HandleQuote(quote("unknown-asset", 0.1, 0.2, now))
	assert.Equal(t, 0, gw.tickCount())

	eng.HandleQuote(quote("yes-1", 0.18, 0.20, now))
	waitFor(t, func() bool { return gw.tickCount() == 1 })

	// Older replay of the same asset is rejected before the gateway.
	eng.HandleQuote(quote("yes-1", 0.10, 0.90, now.Add(-time.Second)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gw.tickCount())
}

func TestWatchRemovalRetiresWorker(t *testing.T) {
	gw := &memGateway{}
	rec := &memRecorder{}
	eng := newTestEngine(gw, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	eng.OnWatchChange(testSnapshot(), nil)

	now := time.Now().UTC()
	eng.HandleQuote(quote("yes-1", 0.18, 0.20, now))
	waitFor(t, func() bool { return gw.tickCount() == 1 })

	// Event leaves the watchlist.
	eng.OnWatchChange(watch.Snapshot{
		Markets: map[string][]domain.Market{},
		Refs:    map[string]watch.AssetRef{},
	}, []string{"yes-1", "yes-2", "no-1", "no-2"})

	eng.HandleQuote(quote("yes-1", 0.19, 0.21, now.Add(time.Second)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gw.tickCount())
}
