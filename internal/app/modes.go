package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gmparb/internal/arb"
	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/metasync"
	"github.com/alanyoungcy/gmparb/internal/paper"
	"github.com/alanyoungcy/gmparb/internal/persist"
	"github.com/alanyoungcy/gmparb/internal/pipeline"
	"github.com/alanyoungcy/gmparb/internal/platform/polymarket"
	"github.com/alanyoungcy/gmparb/internal/pricing"
	"github.com/alanyoungcy/gmparb/internal/stream"
	"github.com/alanyoungcy/gmparb/internal/watch"
)

// SyncMode runs only the checkpointed metadata sync.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	return g.Wait()
}

// StreamMode runs metadata sync plus the live quote stream and detection.
// The paper simulator stays off regardless of configuration.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	if err := a.startMarketPipeline(ctx, g, deps, false); err != nil {
		return fmt.Errorf("stream mode: %w", err)
	}
	return g.Wait()
}

// PaperMode runs metadata sync, streaming, detection, and the paper trading
// simulator.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	if err := a.startMarketPipeline(ctx, g, deps, a.cfg.Paper.Enabled); err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs only the tick archival and retention loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode starts every subsystem: sync, streaming, detection, paper trading,
// and archival when object storage is configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	if err := a.startMarketPipeline(ctx, g, deps, a.cfg.Paper.Enabled); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if deps.Archiver != nil {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	return g.Wait()
}

// startSync adds the metadata sync engine to the errgroup.
func (a *App) startSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	gamma := polymarket.NewGammaClient(
		a.cfg.Polymarket.GammaHost,
		a.cfg.Polymarket.GammaRateLimit,
		a.cfg.Polymarket.GammaBurst,
	)
	engine := metasync.NewEngine(metasync.Config{
		Interval:   a.cfg.Sync.Interval.Duration,
		PageSize:   a.cfg.Sync.PageSize,
		Slack:      a.cfg.Sync.Slack.Duration,
		MaxBackoff: a.cfg.Sync.MaxBackoff.Duration,
	}, gamma, deps.EventStore, deps.MarketStore, deps.CheckpointStore, a.logger)

	g.Go(func() error {
		return engine.Run(ctx)
	})
}

// startMarketPipeline wires the quote path: stream adapter feeding the
// aggregator-backed evaluation pipeline, with the persistence gateway
// flushing behind it.
func (a *App) startMarketPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, paperEnabled bool) error {
	feed := watch.NewFeed(deps.WatchlistStore, deps.MarketStore, a.logger)
	if err := feed.Seed(ctx, a.cfg.Watchlist.EventIDs); err != nil {
		return err
	}

	gateway := persist.NewGateway(persist.Config{
		FlushInterval:    a.cfg.Persist.FlushInterval.Duration,
		MaxBatchSize:     a.cfg.Persist.MaxBatchSize,
		MaxBufferedTicks: a.cfg.Persist.MaxBufferedTicks,
		TicksEnabled:     a.cfg.Persist.TicksEnabled,
	}, deps.QuoteStore, deps.SignalStore, deps.PaperStore, a.logger)
	g.Go(func() error {
		return gateway.Run(ctx)
	})

	agg := pricing.NewAggregator(deps.QuoteCache, a.logger)

	engine := pipeline.NewEngine(
		pipeline.Config{
			MaxQuoteAge:  a.cfg.Arbitrage.MaxQuoteAge.Duration,
			PaperEnabled: paperEnabled,
		},
		arb.Config{
			FeeRate:     a.cfg.Arbitrage.FeeRate,
			MinEdge:     a.cfg.Arbitrage.MinEdge,
			ReemitDelta: a.cfg.Arbitrage.ReemitDelta,
		},
		paper.Config{
			SizingMode:     strings.ToLower(a.cfg.Paper.SizingMode),
			SizePerLeg:     a.cfg.Paper.SizePerLeg,
			MaxCapital:     a.cfg.Paper.MaxCapital,
			FeeRate:        a.cfg.Arbitrage.FeeRate,
			MaxOrderAge:    a.cfg.Paper.MaxOrderAge.Duration,
			MaxOpenBaskets: a.cfg.Paper.MaxOpenBaskets,
		},
		agg, gateway, gateway, a.logger,
	)
	g.Go(func() error {
		return engine.Run(ctx)
	})

	wsURL := strings.TrimSuffix(a.cfg.Polymarket.WsHost, "/") + "/ws/market"
	dialer := stream.Dialer(func(onQuote func(domain.Quote), onDisconnect func(error)) stream.Conn {
		ws := polymarket.NewWSClient(wsURL)
		ws.OnQuote(onQuote)
		ws.OnDisconnect(onDisconnect)
		return ws
	})
	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost)

	adapter := stream.NewAdapter(stream.Config{
		ReconnectDelay:    a.cfg.Stream.ReconnectDelay.Duration,
		MaxReconnectDelay: a.cfg.Stream.MaxReconnectDelay.Duration,
		SnapshotTimeout:   a.cfg.Stream.SnapshotTimeout.Duration,
		WatchPollInterval: a.cfg.Stream.WatchPollInterval.Duration,
	}, dialer, clob, feed, engine, engine.OnWatchChange, a.logger)
	g.Go(func() error {
		return adapter.Run(ctx)
	})

	return nil
}

// startArchiver adds the daily archive-then-prune loop to the errgroup. Ticks
// older than the retention window are uploaded to object storage before the
// matching rows are deleted; signals are archived but never pruned.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archival requires s3.enabled")
	}
	if a.cfg.Persist.RetentionDays < 1 {
		return fmt.Errorf("archival requires persist.retention_days >= 1")
	}

	g.Go(func() error {
		runOnce := func() {
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Persist.RetentionDays)

			archived, err := deps.Archiver.ArchiveTicks(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "tick archive failed", slog.Any("error", err))
				return
			}
			if archived > 0 {
				pruned, err := deps.QuoteStore.DeleteTicksBefore(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "tick prune failed", slog.Any("error", err))
					return
				}
				a.logger.InfoContext(ctx, "ticks archived",
					slog.Int64("archived", archived),
					slog.Int64("pruned", pruned),
					slog.Time("cutoff", cutoff))
			}

			if n, err := deps.Archiver.ArchiveSignals(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "signal archive failed", slog.Any("error", err))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "signals archived", slog.Int64("archived", n))
			}
		}

		runOnce()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})

	return nil
}
