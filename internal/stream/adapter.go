// Package stream owns the market-data connection lifecycle: connect,
// snapshot, stream, and recover, reconciling the subscription against the
// watchlist as it changes.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/watch"
)

// State is the adapter's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSnapshotting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSnapshotting:
		return "snapshotting"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Conn is one live market-data connection. The asset set is fixed at connect.
type Conn interface {
	Connect(ctx context.Context, assetIDs []string) error
	Close() error
}

// Dialer builds a fresh Conn with the given handlers registered. A Conn is
// used for exactly one connect/disconnect cycle.
type Dialer func(onQuote func(domain.Quote), onDisconnect func(error)) Conn

// Snapshotter fetches authoritative REST book snapshots.
type Snapshotter interface {
	GetBooks(ctx context.Context, assetIDs []string) ([]domain.Quote, error)
}

// WatchSource resolves the current watch universe.
type WatchSource interface {
	Snapshot(ctx context.Context) (watch.Snapshot, error)
}

// Sink receives every quote the adapter produces, snapshot and stream alike.
type Sink interface {
	HandleQuote(q domain.Quote)
}

// WatchChangeHandler is notified whenever the adapter adopts a new watch
// snapshot, with the assets that left the universe.
type WatchChangeHandler func(snap watch.Snapshot, removed []string)

// Config holds adapter tuning.
type Config struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	SnapshotTimeout   time.Duration
	WatchPollInterval time.Duration
}

// Adapter drives the connection state machine. Stream quotes received while
// the REST snapshot is in flight are buffered and replayed after it, so the
// sink always sees a book baseline before deltas; the aggregator's as_of
// monotonicity then resolves any interleaving.
type Adapter struct {
	cfg     Config
	dial    Dialer
	books   Snapshotter
	watches WatchSource
	sink    Sink

	onWatchChange WatchChangeHandler

	state atomic.Int32

	bufMu     sync.Mutex
	buffering bool
	buffer    []domain.Quote

	logger *slog.Logger
}

// NewAdapter creates an adapter. onWatchChange may be nil.
func NewAdapter(
	cfg Config,
	dial Dialer,
	books Snapshotter,
	watches WatchSource,
	sink Sink,
	onWatchChange WatchChangeHandler,
	logger *slog.Logger,
) *Adapter {
	return &Adapter{
		cfg:           cfg,
		dial:          dial,
		books:         books,
		watches:       watches,
		sink:          sink,
		onWatchChange: onWatchChange,
		logger:        logger.With(slog.String("component", "stream")),
	}
}

// State returns the current connection state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Run drives connect/snapshot/stream cycles until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	var (
		current watch.Snapshot
		delay   = a.cfg.ReconnectDelay
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		snap, err := a.watches.Snapshot(ctx)
		if err != nil {
			a.logger.Error("watch snapshot failed", slog.Any("error", err))
			if !a.sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = a.nextDelay(delay)
			continue
		}
		a.adoptSnapshot(&current, snap)

		if len(current.Assets) == 0 {
			a.setState(StateDisconnected)
			if !a.sleep(ctx, a.cfg.WatchPollInterval) {
				return ctx.Err()
			}
			continue
		}

		reconnected, err := a.session(ctx, &current)
		if err != nil {
			return err
		}
		if reconnected {
			// Subscription rebuild, no backoff.
			delay = a.cfg.ReconnectDelay
			continue
		}

		a.setState(StateDisconnected)
		if !a.sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = a.nextDelay(delay)
	}
}

// session runs one connection from dial to disconnect. It returns
// (true, nil) when the session ended deliberately to rebuild the
// subscription and (false, nil) when the connection dropped.
func (a *Adapter) session(ctx context.Context, current *watch.Snapshot) (bool, error) {
	a.setState(StateConnecting)

	a.bufMu.Lock()
	a.buffering = true
	a.buffer = nil
	a.bufMu.Unlock()

	disconnected := make(chan error, 1)
	conn := a.dial(a.handleStreamQuote, func(err error) {
		select {
		case disconnected <- err:
		default:
		}
	})

	if err := conn.Connect(ctx, current.Assets); err != nil {
		a.logger.Error("connect failed", slog.Any("error", err))
		return false, nil
	}
	defer conn.Close()

	a.setState(StateSnapshotting)
	if err := a.snapshotBooks(ctx, current.Assets); err != nil {
		a.logger.Error("book snapshot failed", slog.Any("error", err))
		return false, nil
	}
	a.drainBuffer()

	a.setState(StateStreaming)
	a.logger.Info("streaming", slog.Int("assets", len(current.Assets)))

	poll := time.NewTicker(a.cfg.WatchPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case err := <-disconnected:
			a.logger.Warn("stream disconnected", slog.Any("error", err))
			return false, nil

		case <-poll.C:
			snap, err := a.watches.Snapshot(ctx)
			if err != nil {
				a.logger.Error("watch snapshot failed", slog.Any("error", err))
				continue
			}
			added, removed := watch.Diff(*current, snap)
			if len(added) == 0 && len(removed) == 0 {
				a.adoptSnapshot(current, snap)
				continue
			}
			a.logger.Info("watch universe changed, rebuilding subscription",
				slog.Int("added", len(added)),
				slog.Int("removed", len(removed)))
			a.adoptSnapshot(current, snap)
			return true, nil
		}
	}
}

// snapshotBooks fetches REST book snapshots and pushes them to the sink.
func (a *Adapter) snapshotBooks(ctx context.Context, assetIDs []string) error {
	snapCtx, cancel := context.WithTimeout(ctx, a.cfg.SnapshotTimeout)
	defer cancel()

	quotes, err := a.books.GetBooks(snapCtx, assetIDs)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		a.sink.HandleQuote(q)
	}
	return nil
}

// handleStreamQuote routes a stream quote to the buffer during snapshotting
// and straight to the sink while streaming.
func (a *Adapter) handleStreamQuote(q domain.Quote) {
	a.bufMu.Lock()
	if a.buffering {
		a.buffer = append(a.buffer, q)
		a.bufMu.Unlock()
		return
	}
	a.bufMu.Unlock()
	a.sink.HandleQuote(q)
}

// drainBuffer replays quotes buffered during the snapshot, in arrival order,
// and switches to direct delivery.
func (a *Adapter) drainBuffer() {
	a.bufMu.Lock()
	buffered := a.buffer
	a.buffer = nil
	a.buffering = false
	a.bufMu.Unlock()

	for _, q := range buffered {
		a.sink.HandleQuote(q)
	}
}

func (a *Adapter) adoptSnapshot(current *watch.Snapshot, snap watch.Snapshot) {
	_, removed := watch.Diff(*current, snap)
	*current = snap
	if a.onWatchChange != nil {
		a.onWatchChange(snap, removed)
	}
}

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
}

func (a *Adapter) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > a.cfg.MaxReconnectDelay {
		delay = a.cfg.MaxReconnectDelay
	}
	return delay
}

// sleep waits for d or context cancellation, reporting whether the wait
// completed.
func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
