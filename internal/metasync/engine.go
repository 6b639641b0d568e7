// Package metasync keeps the local event and market catalog in step with the
// Gamma API using checkpointed incremental sync.
package metasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/platform/polymarket"
)

// checkpointSource names the single checkpoint row this engine owns.
const checkpointSource = "gamma_events"

// EventLister is the slice of the Gamma client the engine needs.
type EventLister interface {
	ListEventsUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]polymarket.APIEvent, error)
}

// Config holds sync engine tuning.
type Config struct {
	Interval time.Duration
	PageSize int
	// Slack widens the resume window below the watermark so rows whose
	// updated_at landed just behind it are not missed on restart.
	Slack      time.Duration
	MaxBackoff time.Duration
}

// Engine runs the periodic metadata sync cycle. Each cycle resumes from the
// stored checkpoint, pages forward in updated_at order, upserts what it sees,
// and advances the checkpoint only after the page is durably stored.
type Engine struct {
	cfg         Config
	gamma       EventLister
	events      domain.EventStore
	markets     domain.MarketStore
	checkpoints domain.CheckpointStore
	logger      *slog.Logger
}

// NewEngine creates a sync engine.
func NewEngine(
	cfg Config,
	gamma EventLister,
	events domain.EventStore,
	markets domain.MarketStore,
	checkpoints domain.CheckpointStore,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		gamma:       gamma,
		events:      events,
		markets:     markets,
		checkpoints: checkpoints,
		logger:      logger.With(slog.String("component", "metasync")),
	}
}

// Run executes sync cycles until ctx is cancelled. Transient cycle failures
// back off exponentially; a corrupt checkpoint is fatal and returned
// immediately so the operator can repair it rather than silently resyncing.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting metadata sync",
		slog.Duration("interval", e.cfg.Interval),
		slog.Int("page_size", e.cfg.PageSize))

	delay := e.cfg.Interval
	for {
		err := e.Cycle(ctx)
		switch {
		case err == nil:
			delay = e.cfg.Interval
		case errors.Is(err, domain.ErrCheckpointCorrupt):
			return fmt.Errorf("metasync: %w", err)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			e.logger.Error("sync cycle failed", slog.Any("error", err))
			delay *= 2
			if delay > e.cfg.MaxBackoff {
				delay = e.cfg.MaxBackoff
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Cycle runs one full sync pass: resume from the checkpoint and page forward
// until a short page signals the end of new data.
func (e *Engine) Cycle(ctx context.Context) error {
	cp, err := e.loadCheckpoint(ctx)
	if err != nil {
		return err
	}

	since := cp.Watermark
	if !since.IsZero() {
		since = since.Add(-e.cfg.Slack)
	}

	var (
		total  int
		offset int
	)
	for {
		page, err := e.gamma.ListEventsUpdatedSince(ctx, since, e.cfg.PageSize, offset)
		if err != nil {
			return fmt.Errorf("metasync: list events: %w", err)
		}
		if len(page) == 0 {
			break
		}

		stored, next, err := e.applyPage(ctx, cp, page)
		if err != nil {
			return err
		}
		cp = next
		total += stored

		if len(page) < e.cfg.PageSize {
			break
		}
		offset += len(page)
	}

	if total > 0 {
		e.logger.Info("sync cycle complete",
			slog.Int("events", total),
			slog.Time("watermark", cp.Watermark))
	}
	return nil
}

// loadCheckpoint reads and validates the stored checkpoint. A missing row
// means first run; everything else invalid is corrupt and fatal.
func (e *Engine) loadCheckpoint(ctx context.Context) (domain.SyncCheckpoint, error) {
	cp, err := e.checkpoints.LoadCheckpoint(ctx, checkpointSource)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Info("no checkpoint, starting full sync")
		return domain.SyncCheckpoint{Source: checkpointSource}, nil
	}
	if err != nil {
		return domain.SyncCheckpoint{}, fmt.Errorf("metasync: load checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return domain.SyncCheckpoint{}, fmt.Errorf("metasync: %w", err)
	}
	return cp, nil
}

// applyPage stores one page of events and advances the checkpoint. Events at
// the exact watermark that were already processed are skipped so the slack
// window never double-applies work.
func (e *Engine) applyPage(ctx context.Context, cp domain.SyncCheckpoint, page []polymarket.APIEvent) (int, domain.SyncCheckpoint, error) {
	now := time.Now().UTC()

	var (
		events  []domain.Event
		markets []domain.Market
	)
	for i := range page {
		ev := page[i].ToDomainEvent()
		if ev.UpdatedAt.Equal(cp.Watermark) && cp.AtBoundary(ev.ID) {
			continue
		}
		ev.IngestedAt = now
		events = append(events, ev)

		for j := range page[i].Markets {
			m := page[i].Markets[j].ToDomainMarket(ev.ID)
			m.IngestedAt = now
			markets = append(markets, m)
		}
	}
	if len(events) == 0 {
		return 0, cp, nil
	}

	if err := e.events.UpsertEvents(ctx, events); err != nil {
		return 0, cp, fmt.Errorf("metasync: upsert events: %w", err)
	}
	if err := e.markets.UpsertMarkets(ctx, markets); err != nil {
		return 0, cp, fmt.Errorf("metasync: upsert markets: %w", err)
	}

	watermark := cp.Watermark
	for _, ev := range events {
		if ev.UpdatedAt.After(watermark) {
			watermark = ev.UpdatedAt
		}
	}
	boundary := cp.BoundaryIDs
	if watermark.After(cp.Watermark) {
		boundary = nil
	}
	for _, ev := range events {
		if ev.UpdatedAt.Equal(watermark) {
			boundary = append(boundary, ev.ID)
		}
	}

	next, err := cp.Advance(watermark, boundary)
	if err != nil {
		return 0, cp, fmt.Errorf("metasync: %w", err)
	}
	if err := e.checkpoints.SaveCheckpoint(ctx, next); err != nil {
		return 0, cp, fmt.Errorf("metasync: save checkpoint: %w", err)
	}
	return len(events), next, nil
}
