package arb

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func basket(asks ...float64) ([]domain.Market, map[string]domain.Quote) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	markets := make([]domain.Market, 0, len(asks))
	quotes := make(map[string]domain.Quote, 2*len(asks))
	for i, ask := range asks {
		yes := fmt.Sprintf("yes-%d", i)
		no := fmt.Sprintf("no-%d", i)
		markets = append(markets, domain.Market{
			ID:         fmt.Sprintf("m%d", i),
			EventID:    "ev1",
			Status:     domain.MarketStatusActive,
			YesAssetID: yes,
			NoAssetID:  no,
		})
		quotes[yes] = domain.Quote{AssetID: yes, BestBid: ptr(ask - 0.02), BestAsk: ptr(ask), AsOf: now}
		// NO side priced so it never qualifies unless a test overrides it.
		quotes[no] = domain.Quote{AssetID: no, BestBid: ptr(0.93), BestAsk: ptr(0.95), AsOf: now}
	}
	return markets, quotes
}

func newDetector(minEdge float64) *Detector {
	return NewDetector(Config{FeeRate: 0.002, MinEdge: minEdge}, slog.New(slog.DiscardHandler))
}

func TestEvaluateBuyAllYes(t *testing.T) {
	markets, quotes := basket(0.20, 0.25, 0.22, 0.18)
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)

	sig := det.Opened[0]
	assert.Equal(t, domain.SignalBuyAllYes, sig.Kind)
	assert.InDelta(t, 0.85, sig.Cost, 1e-9)
	assert.InDelta(t, 0.0017, sig.Fee, 1e-9)
	assert.InDelta(t, 0.1483, sig.Edge, 1e-9)
	assert.Len(t, sig.Legs, 4)
	assert.Equal(t, 1.0, sig.Payoff())
}

func TestEvaluateBuyAllNo(t *testing.T) {
	markets, quotes := basket(0.40, 0.45, 0.50)
	// Reprice NO asks so the basket costs 1.85 against a payoff of 2.
	for i, ask := range []float64{0.60, 0.62, 0.63} {
		id := fmt.Sprintf("no-%d", i)
		q := quotes[id]
		q.BestAsk = ptr(ask)
		quotes[id] = q
	}
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)

	sig := det.Opened[0]
	assert.Equal(t, domain.SignalBuyAllNo, sig.Kind)
	assert.InDelta(t, 1.85, sig.Cost, 1e-9)
	assert.InDelta(t, 2-1.85-1.85*0.002, sig.Edge, 1e-9)
	assert.Equal(t, 2.0, sig.Payoff())
}

func TestRisingEdgeDedup(t *testing.T) {
	markets, quotes := basket(0.20, 0.25, 0.22, 0.18)
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)

	// Condition persists: no re-emission.
	det = d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
	assert.Empty(t, det.Closed)

	// Condition exits: closed, and rearmed.
	q := quotes["yes-0"]
	q.BestAsk = ptr(0.90)
	quotes["yes-0"] = q
	det = d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
	assert.Equal(t, []domain.SignalKind{domain.SignalBuyAllYes}, det.Closed)

	// Condition returns: fires again.
	q.BestAsk = ptr(0.20)
	quotes["yes-0"] = q
	det = d.Evaluate("ev1", markets, quotes)
	assert.Len(t, det.Opened, 1)
}

func TestEdgeMoveReemission(t *testing.T) {
	markets, quotes := basket(0.20, 0.25, 0.22, 0.18)
	d := NewDetector(Config{FeeRate: 0.002, ReemitDelta: 0.05}, slog.New(slog.DiscardHandler))

	det := d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)
	first := det.Opened[0].Edge

	// Edge drifts by less than the delta: stays silent.
	q := quotes["yes-0"]
	q.BestAsk = ptr(0.22)
	quotes["yes-0"] = q
	det = d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
	assert.Empty(t, det.Closed)

	// Edge moves by more than the delta while still eligible: re-emitted.
	q.BestAsk = ptr(0.10)
	quotes["yes-0"] = q
	det = d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)
	assert.Greater(t, det.Opened[0].Edge, first)

	// Silent again until the edge moves past the delta once more.
	det = d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
}

func TestMinEdgeThreshold(t *testing.T) {
	// Edge is ~0.0478, below a 0.05 floor.
	markets, quotes := basket(0.30, 0.30, 0.35)
	d := newDetector(0.05)

	det := d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
}

func TestSingleMarketNeverSignals(t *testing.T) {
	markets, quotes := basket(0.10)
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
}

func TestMissingAskDisqualifies(t *testing.T) {
	markets, quotes := basket(0.20, 0.25)
	q := quotes["yes-1"]
	q.BestAsk = nil
	quotes["yes-1"] = q
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	assert.Empty(t, det.Opened)
}

func TestSignalAsOfIsNewestLeg(t *testing.T) {
	markets, quotes := basket(0.20, 0.25)
	newer := time.Date(2026, 8, 30, 12, 0, 5, 0, time.UTC)
	q := quotes["yes-1"]
	q.AsOf = newer
	quotes["yes-1"] = q
	d := newDetector(0)

	det := d.Evaluate("ev1", markets, quotes)
	require.Len(t, det.Opened, 1)
	assert.Equal(t, newer, det.Opened[0].AsOf)
}
