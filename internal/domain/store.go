package domain

import (
	"context"
	"time"
)

// ListOpts bounds paginated reads.
type ListOpts struct {
	Limit  int
	Offset int
}

// EventStore persists event metadata.
type EventStore interface {
	UpsertEvents(ctx context.Context, events []Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, status EventStatus, opts ListOpts) ([]Event, error)
}

// MarketStore persists market metadata.
type MarketStore interface {
	UpsertMarkets(ctx context.Context, markets []Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarketsByEvent(ctx context.Context, eventID string) ([]Market, error)
}

// CheckpointStore persists sync checkpoints. Load returns ErrNotFound for a
// source that has never synced.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, source string) (SyncCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp SyncCheckpoint) error
}

// WatchlistStore persists the set of events monitored for arbitrage.
type WatchlistStore interface {
	AddWatch(ctx context.Context, eventID string) error
	RemoveWatch(ctx context.Context, eventID string) error
	ListWatches(ctx context.Context) ([]WatchEntry, error)
}

// QuoteStore persists latest quotes and historical ticks.
type QuoteStore interface {
	UpsertLatestQuotes(ctx context.Context, quotes []Quote) error
	InsertTicks(ctx context.Context, ticks []PriceTick) error
	ListTicks(ctx context.Context, assetID string, from, to time.Time, opts ListOpts) ([]PriceTick, error)
	DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalStore persists the append-only arbitrage signal log.
type SignalStore interface {
	InsertSignals(ctx context.Context, signals []ArbSignal) error
	ListSignalsByEvent(ctx context.Context, eventID string, opts ListOpts) ([]ArbSignal, error)
}

// PaperStore persists the simulated trading state.
type PaperStore interface {
	InsertOrders(ctx context.Context, orders []PaperOrder) error
	InsertFills(ctx context.Context, fills []PaperFill) error
	UpsertPositions(ctx context.Context, positions []PaperPosition) error
	UpsertPnL(ctx context.Context, pnl []PaperPnL) error
	ListPositionsByEvent(ctx context.Context, eventID string) ([]PaperPosition, error)
	GetPnL(ctx context.Context, eventID string) (PaperPnL, error)
}
