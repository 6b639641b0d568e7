// Package persist decouples hot-path producers from database writes with a
// buffered, interval-flushed gateway.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// Config holds gateway tuning.
type Config struct {
	FlushInterval time.Duration
	MaxBatchSize  int
	// MaxBufferedTicks bounds the tick buffer. On overflow the oldest ticks
	// are dropped: ticks are history, and losing old history beats blocking
	// the price path or losing fresh state.
	MaxBufferedTicks int
	TicksEnabled     bool
}

// Gateway buffers writes and flushes them in batches. Enqueue methods never
// block and never fail; flush errors are logged and the affected batch is
// retried on the next interval.
type Gateway struct {
	cfg Config

	quoteStore  domain.QuoteStore
	signalStore domain.SignalStore
	paperStore  domain.PaperStore

	mu           sync.Mutex
	quotes       map[string]domain.Quote
	ticks        []domain.PriceTick
	droppedTicks int64
	signals      []domain.ArbSignal
	orders       []domain.PaperOrder
	fills        []domain.PaperFill
	positions    map[string]domain.PaperPosition
	pnls         map[string]domain.PaperPnL

	logger *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway(
	cfg Config,
	quoteStore domain.QuoteStore,
	signalStore domain.SignalStore,
	paperStore domain.PaperStore,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		cfg:         cfg,
		quoteStore:  quoteStore,
		signalStore: signalStore,
		paperStore:  paperStore,
		quotes:      make(map[string]domain.Quote),
		positions:   make(map[string]domain.PaperPosition),
		pnls:        make(map[string]domain.PaperPnL),
		logger:      logger.With(slog.String("component", "persist")),
	}
}

// EnqueueQuote buffers a latest-quote upsert and, when tick recording is
// enabled, the matching historical tick. Only the newest quote per asset
// survives until the flush; ticks are kept individually.
func (g *Gateway) EnqueueQuote(q domain.Quote, tick domain.PriceTick) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if held, ok := g.quotes[q.AssetID]; !ok || q.NewerThan(held) {
		g.quotes[q.AssetID] = q
	}

	if !g.cfg.TicksEnabled {
		return
	}
	if len(g.ticks) >= g.cfg.MaxBufferedTicks {
		drop := len(g.ticks) - g.cfg.MaxBufferedTicks + 1
		g.ticks = g.ticks[drop:]
		g.droppedTicks += int64(drop)
	}
	g.ticks = append(g.ticks, tick)
}

// EnqueueSignals buffers detected signals for the append-only log.
func (g *Gateway) EnqueueSignals(signals []domain.ArbSignal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signals = append(g.signals, signals...)
}

// RecordOrders implements paper.Recorder.
func (g *Gateway) RecordOrders(orders []domain.PaperOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, orders...)
}

// RecordFills implements paper.Recorder.
func (g *Gateway) RecordFills(fills []domain.PaperFill) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fills = append(g.fills, fills...)
}

// RecordPositions implements paper.Recorder. Only the latest state per
// position survives until the flush.
func (g *Gateway) RecordPositions(positions []domain.PaperPosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range positions {
		g.positions[p.EventID+"|"+p.MarketID+"|"+string(p.Outcome)] = p
	}
}

// RecordPnL implements paper.Recorder.
func (g *Gateway) RecordPnL(pnl domain.PaperPnL) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pnls[pnl.EventID] = pnl
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs a final flush so shutdown loses nothing buffered.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting persistence gateway",
		slog.Duration("flush_interval", g.cfg.FlushInterval),
		slog.Bool("ticks_enabled", g.cfg.TicksEnabled))

	ticker := time.NewTicker(g.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			g.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			g.Flush(ctx)
		}
	}
}

// Flush writes everything buffered. Each stream is written independently so
// one failing table does not hold the others hostage; a failed stream is
// put back for the next flush.
func (g *Gateway) Flush(ctx context.Context) {
	g.mu.Lock()
	quotes := g.quotes
	ticks := g.ticks
	dropped := g.droppedTicks
	signals := g.signals
	orders := g.orders
	fills := g.fills
	positions := g.positions
	pnls := g.pnls
	g.quotes = make(map[string]domain.Quote)
	g.ticks = nil
	g.droppedTicks = 0
	g.signals = nil
	g.orders = nil
	g.fills = nil
	g.positions = make(map[string]domain.PaperPosition)
	g.pnls = make(map[string]domain.PaperPnL)
	g.mu.Unlock()

	if dropped > 0 {
		g.logger.Warn("tick buffer overflow", slog.Int64("dropped", dropped))
	}

	if len(quotes) > 0 {
		batch := make([]domain.Quote, 0, len(quotes))
		for _, q := range quotes {
			batch = append(batch, q)
		}
		if err := g.quoteStore.UpsertLatestQuotes(ctx, batch); err != nil {
			g.logger.Error("flush latest quotes failed", slog.Any("error", err))
			g.requeueQuotes(batch)
		}
	}

	for len(ticks) > 0 {
		n := min(len(ticks), g.cfg.MaxBatchSize)
		if err := g.quoteStore.InsertTicks(ctx, ticks[:n]); err != nil {
			g.logger.Error("flush ticks failed", slog.Any("error", err))
			g.requeueTicks(ticks)
			break
		}
		ticks = ticks[n:]
	}

	if len(signals) > 0 {
		if err := g.signalStore.InsertSignals(ctx, signals); err != nil {
			g.logger.Error("flush signals failed", slog.Any("error", err))
			g.mu.Lock()
			g.signals = append(signals, g.signals...)
			g.mu.Unlock()
		}
	}

	if len(orders) > 0 {
		if err := g.paperStore.InsertOrders(ctx, orders); err != nil {
			g.logger.Error("flush orders failed", slog.Any("error", err))
			g.mu.Lock()
			g.orders = append(orders, g.orders...)
			g.mu.Unlock()
		}
	}

	if len(fills) > 0 {
		if err := g.paperStore.InsertFills(ctx, fills); err != nil {
			g.logger.Error("flush fills failed", slog.Any("error", err))
			g.mu.Lock()
			g.fills = append(fills, g.fills...)
			g.mu.Unlock()
		}
	}

	if len(positions) > 0 {
		batch := make([]domain.PaperPosition, 0, len(positions))
		for _, p := range positions {
			batch = append(batch, p)
		}
		if err := g.paperStore.UpsertPositions(ctx, batch); err != nil {
			g.logger.Error("flush positions failed", slog.Any("error", err))
			g.requeuePositions(batch)
		}
	}

	if len(pnls) > 0 {
		batch := make([]domain.PaperPnL, 0, len(pnls))
		for _, p := range pnls {
			batch = append(batch, p)
		}
		if err := g.paperStore.UpsertPnL(ctx, batch); err != nil {
			g.logger.Error("flush pnl failed", slog.Any("error", err))
			g.mu.Lock()
			for _, p := range batch {
				if _, ok := g.pnls[p.EventID]; !ok {
					g.pnls[p.EventID] = p
				}
			}
			g.mu.Unlock()
		}
	}
}

// requeueQuotes puts failed quote upserts back without clobbering anything
// newer enqueued since the flush started.
func (g *Gateway) requeueQuotes(batch []domain.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, q := range batch {
		if held, ok := g.quotes[q.AssetID]; !ok || q.NewerThan(held) {
			g.quotes[q.AssetID] = q
		}
	}
}

// requeueTicks prepends failed ticks, re-applying the overflow bound.
func (g *Gateway) requeueTicks(ticks []domain.PriceTick) {
	g.mu.Lock()
	defer g.mu.Unlock()
	merged := append(ticks, g.ticks...)
	if len(merged) > g.cfg.MaxBufferedTicks {
		drop := len(merged) - g.cfg.MaxBufferedTicks
		merged = merged[drop:]
		g.droppedTicks += int64(drop)
	}
	g.ticks = merged
}

func (g *Gateway) requeuePositions(batch []domain.PaperPosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range batch {
		key := p.EventID + "|" + p.MarketID + "|" + string(p.Outcome)
		if _, ok := g.positions[key]; !ok {
			g.positions[key] = p
		}
	}
}
