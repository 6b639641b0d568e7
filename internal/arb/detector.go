// Package arb detects grouped mutually-exclusive position arbitrage: baskets
// across an event's markets whose cost plus fees is below the guaranteed
// settlement payoff.
package arb

import (
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/google/uuid"
)

// Config holds detection thresholds.
type Config struct {
	// FeeRate is the proportional taker fee applied to basket cost.
	FeeRate float64
	// MinEdge is the minimum post-fee edge required to signal.
	MinEdge float64
	// ReemitDelta re-emits a live signal when its edge has moved by more than
	// this amount since the last emission. Zero disables re-emission, leaving
	// pure rising-edge behavior.
	ReemitDelta float64
}

// Detection is the outcome of evaluating one event against fresh quotes.
// Opened holds signals that just crossed the threshold; Closed holds basket
// kinds whose condition just exited.
type Detection struct {
	Opened []domain.ArbSignal
	Closed []domain.SignalKind
}

// Detector evaluates events for GMP opportunities with rising-edge emission:
// a signal fires on the transition into profitability, again whenever the
// edge drifts by more than ReemitDelta while the condition persists, and
// rearms fully once it exits.
//
// Detector is not safe for concurrent use; the pipeline serializes all
// evaluations for an event on that event's worker.
type Detector struct {
	cfg    Config
	states map[string]map[domain.SignalKind]kindState
	logger *slog.Logger
}

// kindState tracks one basket direction: whether the opportunity is live and
// the edge carried by the last emitted signal.
type kindState struct {
	active      bool
	emittedEdge float64
}

// NewDetector creates a detector.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		states: make(map[string]map[domain.SignalKind]kindState),
		logger: logger.With(slog.String("component", "arb")),
	}
}

// Evaluate checks both basket directions for an event. quotes must contain a
// fresh quote for every asset referenced by markets; the caller enforces
// completeness and freshness. Events with fewer than two markets carry no
// mutual-exclusivity premium and are never signalled.
func (d *Detector) Evaluate(eventID string, markets []domain.Market, quotes map[string]domain.Quote) Detection {
	var det Detection

	if len(markets) < 2 {
		d.deactivateAll(eventID, &det)
		return det
	}

	yes := d.evaluateKind(eventID, domain.SignalBuyAllYes, markets, quotes, 1)
	no := d.evaluateKind(eventID, domain.SignalBuyAllNo, markets, quotes, float64(len(markets)-1))

	for _, r := range []kindResult{yes, no} {
		st := d.state(eventID)
		cur := st[r.kind]
		switch {
		case r.qualifies && !cur.active:
			st[r.kind] = kindState{active: true, emittedEdge: r.signal.Edge}
			det.Opened = append(det.Opened, r.signal)
			d.logger.Info("opportunity opened",
				slog.String("event_id", eventID),
				slog.String("kind", string(r.kind)),
				slog.Float64("edge", r.signal.Edge))
		case r.qualifies && cur.active && d.cfg.ReemitDelta > 0 &&
			math.Abs(r.signal.Edge-cur.emittedEdge) > d.cfg.ReemitDelta:
			st[r.kind] = kindState{active: true, emittedEdge: r.signal.Edge}
			det.Opened = append(det.Opened, r.signal)
			d.logger.Info("opportunity edge moved",
				slog.String("event_id", eventID),
				slog.String("kind", string(r.kind)),
				slog.Float64("edge", r.signal.Edge),
				slog.Float64("previous_edge", cur.emittedEdge))
		case !r.qualifies && cur.active:
			st[r.kind] = kindState{}
			det.Closed = append(det.Closed, r.kind)
			d.logger.Info("opportunity closed",
				slog.String("event_id", eventID),
				slog.String("kind", string(r.kind)))
		}
	}
	return det
}

// Forget clears detection state for an event removed from the watchlist.
func (d *Detector) Forget(eventID string) {
	delete(d.states, eventID)
}

type kindResult struct {
	kind      domain.SignalKind
	qualifies bool
	signal    domain.ArbSignal
}

// evaluateKind prices one basket direction. A missing ask on any leg makes
// the basket unexecutable and disqualifies it.
func (d *Detector) evaluateKind(eventID string, kind domain.SignalKind, markets []domain.Market, quotes map[string]domain.Quote, payoff float64) kindResult {
	outcome := domain.OutcomeYes
	if kind == domain.SignalBuyAllNo {
		outcome = domain.OutcomeNo
	}

	var (
		cost float64
		asOf time.Time
		legs = make([]domain.SignalLeg, 0, len(markets))
	)
	for _, m := range markets {
		assetID := m.AssetID(outcome)
		q, ok := quotes[assetID]
		if !ok || q.BestAsk == nil {
			return kindResult{kind: kind}
		}
		cost += *q.BestAsk
		if q.AsOf.After(asOf) {
			asOf = q.AsOf
		}
		legs = append(legs, domain.SignalLeg{
			MarketID: m.ID,
			AssetID:  assetID,
			Outcome:  outcome,
			AskPrice: *q.BestAsk,
			AsOf:     q.AsOf,
		})
	}

	fee := Fee(cost, d.cfg.FeeRate)
	edge := payoff - cost - fee
	if edge <= 0 || edge < d.cfg.MinEdge {
		return kindResult{kind: kind}
	}

	return kindResult{
		kind:      kind,
		qualifies: true,
		signal: domain.ArbSignal{
			ID:      uuid.NewString(),
			EventID: eventID,
			AsOf:    asOf,
			Kind:    kind,
			Cost:    cost,
			Fee:     fee,
			Edge:    edge,
			Legs:    legs,
		},
	}
}

func (d *Detector) state(eventID string) map[domain.SignalKind]kindState {
	s, ok := d.states[eventID]
	if !ok {
		s = make(map[domain.SignalKind]kindState)
		d.states[eventID] = s
	}
	return s
}

func (d *Detector) deactivateAll(eventID string, det *Detection) {
	for kind, st := range d.states[eventID] {
		if st.active {
			d.states[eventID][kind] = kindState{}
			det.Closed = append(det.Closed, kind)
		}
	}
}
