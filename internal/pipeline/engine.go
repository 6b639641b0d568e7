// Package pipeline routes accepted quotes into per-event evaluation workers,
// serializing detection and simulation for each event.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gmparb/internal/arb"
	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/paper"
	"github.com/alanyoungcy/gmparb/internal/pricing"
	"github.com/alanyoungcy/gmparb/internal/watch"
)

// Gateway is the slice of the persistence gateway the engine writes to.
type Gateway interface {
	EnqueueQuote(q domain.Quote, tick domain.PriceTick)
	EnqueueSignals(signals []domain.ArbSignal)
}

// Config holds pipeline tuning.
type Config struct {
	// MaxQuoteAge bounds quote staleness for a complete event evaluation.
	MaxQuoteAge time.Duration
	// PaperEnabled switches the simulator on.
	PaperEnabled bool
}

// Engine fans quotes out to one worker goroutine per watched event. A worker
// owns its event's detector and simulator outright, so detect and simulate
// never race for the same event; distinct events evaluate in parallel.
type Engine struct {
	cfg      Config
	arbCfg   arb.Config
	paperCfg paper.Config

	agg      *pricing.Aggregator
	gateway  Gateway
	recorder paper.Recorder

	mu      sync.Mutex
	snap    watch.Snapshot
	workers map[string]*worker
	stopped bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// worker serializes evaluations for one event. The trigger channel holds at
// most one pending wakeup; evaluation always reads the freshest aggregator
// state, so coalescing bursts loses nothing.
type worker struct {
	trigger chan struct{}
	done    chan struct{}
}

// NewEngine creates a pipeline engine.
func NewEngine(
	cfg Config,
	arbCfg arb.Config,
	paperCfg paper.Config,
	agg *pricing.Aggregator,
	gateway Gateway,
	recorder paper.Recorder,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		arbCfg:   arbCfg,
		paperCfg: paperCfg,
		agg:      agg,
		gateway:  gateway,
		recorder: recorder,
		workers:  make(map[string]*worker),
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// Run keeps workers alive until ctx is cancelled, then waits for them to
// drain.
func (e *Engine) Run(ctx context.Context) error {
	<-ctx.Done()

	e.mu.Lock()
	e.stopped = true
	for _, w := range e.workers {
		close(w.done)
	}
	e.workers = make(map[string]*worker)
	e.mu.Unlock()

	e.wg.Wait()
	return ctx.Err()
}

// HandleQuote implements stream.Sink. Quotes for unwatched assets are
// dropped; rejected (older) updates cause no downstream work.
func (e *Engine) HandleQuote(q domain.Quote) {
	e.mu.Lock()
	ref, ok := e.snap.Refs[q.AssetID]
	e.mu.Unlock()
	if !ok {
		return
	}

	if !e.agg.Update(context.Background(), q) {
		return
	}

	e.gateway.EnqueueQuote(q, domain.TickFromQuote(q, ref.MarketID, ref.Outcome))
	e.wake(ref.EventID)
}

// OnWatchChange implements the stream adapter's watch-change hook: it swaps
// the watched universe, drops quotes for departed assets, and retires
// workers for events that left the watchlist.
func (e *Engine) OnWatchChange(snap watch.Snapshot, removed []string) {
	e.agg.Drop(removed)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = snap

	for eventID, w := range e.workers {
		if _, ok := snap.Markets[eventID]; !ok {
			close(w.done)
			delete(e.workers, eventID)
		}
	}
}

// wake nudges the event's worker, spawning it on first contact.
func (e *Engine) wake(eventID string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	w, ok := e.workers[eventID]
	if !ok {
		w = &worker{
			trigger: make(chan struct{}, 1),
			done:    make(chan struct{}),
		}
		e.workers[eventID] = w
		e.wg.Add(1)
		go e.runWorker(eventID, w)
	}
	e.mu.Unlock()

	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// runWorker is the per-event evaluation loop.
func (e *Engine) runWorker(eventID string, w *worker) {
	defer e.wg.Done()

	detector := arb.NewDetector(e.arbCfg, e.logger)
	var sim *paper.Simulator
	if e.cfg.PaperEnabled {
		sim = paper.NewSimulator(e.paperCfg, e.recorder, e.logger)
	}

	for {
		select {
		case <-w.done:
			return
		case <-w.trigger:
			e.evaluate(eventID, detector, sim)
		}
	}
}

// evaluate runs one detect-then-simulate pass against the freshest quotes.
func (e *Engine) evaluate(eventID string, detector *arb.Detector, sim *paper.Simulator) {
	e.mu.Lock()
	markets := e.snap.Markets[eventID]
	e.mu.Unlock()
	if len(markets) == 0 {
		return
	}

	assets := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		if m.YesAssetID != "" {
			assets = append(assets, m.YesAssetID)
		}
		if m.NoAssetID != "" {
			assets = append(assets, m.NoAssetID)
		}
	}

	now := time.Now().UTC()
	quotes, err := e.agg.EventQuotes(assets, e.cfg.MaxQuoteAge, now)
	if err != nil {
		// An incomplete or stale basket is routine while books warm up.
		if !errors.Is(err, domain.ErrMissingQuote) && !errors.Is(err, domain.ErrStaleQuote) {
			e.logger.Error("event quotes failed", slog.String("event_id", eventID), slog.Any("error", err))
		}
		return
	}

	det := detector.Evaluate(eventID, markets, quotes)
	if len(det.Opened) > 0 {
		e.gateway.EnqueueSignals(det.Opened)
	}

	if sim == nil {
		return
	}
	for _, sig := range det.Opened {
		sim.OnSignal(sig, quotes, now)
	}
	for _, kind := range det.Closed {
		sim.OnClose(eventID, kind, quotes, now)
	}
	sim.MarkToMarket(eventID, quotes, now)
}
