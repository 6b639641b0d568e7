// Package watch resolves the stored watchlist into the concrete market and
// asset sets the rest of the pipeline operates on.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// AssetRef locates an asset within the watched universe.
type AssetRef struct {
	EventID  string
	MarketID string
	Outcome  domain.Outcome
}

// Snapshot is the resolved watch universe at one point in time.
type Snapshot struct {
	// Markets maps each watched event to its active markets.
	Markets map[string][]domain.Market
	// Assets lists every outcome token of every watched market, sorted.
	Assets []string
	// Refs maps asset IDs back to their event, market, and outcome.
	Refs map[string]AssetRef
}

// Feed reads the watchlist and market catalog into snapshots.
type Feed struct {
	watchlist domain.WatchlistStore
	markets   domain.MarketStore
	logger    *slog.Logger
}

// NewFeed creates a feed.
func NewFeed(watchlist domain.WatchlistStore, markets domain.MarketStore, logger *slog.Logger) *Feed {
	return &Feed{
		watchlist: watchlist,
		markets:   markets,
		logger:    logger.With(slog.String("component", "watch")),
	}
}

// Seed adds the configured event IDs to the stored watchlist. Entries that
// already exist are left untouched.
func (f *Feed) Seed(ctx context.Context, eventIDs []string) error {
	for _, id := range eventIDs {
		err := f.watchlist.AddWatch(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("watch: seed %s: %w", id, err)
		}
	}
	return nil
}

// Snapshot resolves the current watchlist. Events with no synced markets yet
// are included with an empty market list so detection skips them cleanly.
func (f *Feed) Snapshot(ctx context.Context) (Snapshot, error) {
	entries, err := f.watchlist.ListWatches(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("watch: list watches: %w", err)
	}

	snap := Snapshot{
		Markets: make(map[string][]domain.Market, len(entries)),
		Refs:    make(map[string]AssetRef),
	}

	for _, entry := range entries {
		markets, err := f.markets.ListMarketsByEvent(ctx, entry.EventID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("watch: markets for %s: %w", entry.EventID, err)
		}

		var active []domain.Market
		for _, m := range markets {
			if m.Status != domain.MarketStatusActive {
				continue
			}
			active = append(active, m)
			for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
				assetID := m.AssetID(outcome)
				if assetID == "" {
					continue
				}
				snap.Assets = append(snap.Assets, assetID)
				snap.Refs[assetID] = AssetRef{
					EventID:  entry.EventID,
					MarketID: m.ID,
					Outcome:  outcome,
				}
			}
		}
		snap.Markets[entry.EventID] = active
	}

	sort.Strings(snap.Assets)
	return snap, nil
}

// Diff returns the assets present in only one of the two snapshots. A
// non-empty result means the stream subscription no longer matches the
// watchlist and must be rebuilt.
func Diff(old, new Snapshot) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old.Assets))
	for _, a := range old.Assets {
		oldSet[a] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new.Assets))
	for _, a := range new.Assets {
		newSet[a] = struct{}{}
	}
	for _, a := range new.Assets {
		if _, ok := oldSet[a]; !ok {
			added = append(added, a)
		}
	}
	for _, a := range old.Assets {
		if _, ok := newSet[a]; !ok {
			removed = append(removed, a)
		}
	}
	return added, removed
}
