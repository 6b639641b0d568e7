package watch

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

type fakeWatchlist struct {
	entries []domain.WatchEntry
	added   []string
}

func (f *fakeWatchlist) AddWatch(_ context.Context, eventID string) error {
	for _, e := range f.entries {
		if e.EventID == eventID {
			return domain.ErrAlreadyExists
		}
	}
	f.entries = append(f.entries, domain.WatchEntry{EventID: eventID, AddedAt: time.Now()})
	f.added = append(f.added, eventID)
	return nil
}

func (f *fakeWatchlist) RemoveWatch(_ context.Context, eventID string) error {
	for i, e := range f.entries {
		if e.EventID == eventID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeWatchlist) ListWatches(_ context.Context) ([]domain.WatchEntry, error) {
	return f.entries, nil
}

type fakeMarkets struct {
	byEvent map[string][]domain.Market
}

func (f *fakeMarkets) UpsertMarkets(context.Context, []domain.Market) error { return nil }

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarkets) ListMarketsByEvent(_ context.Context, eventID string) ([]domain.Market, error) {
	return f.byEvent[eventID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mkt(id, eventID string, status domain.MarketStatus, n int) domain.Market {
	return domain.Market{
		ID:         id,
		EventID:    eventID,
		Status:     status,
		YesAssetID: fmt.Sprintf("yes-%d", n),
		NoAssetID:  fmt.Sprintf("no-%d", n),
	}
}

func TestSeedSkipsExistingEntries(t *testing.T) {
	wl := &fakeWatchlist{entries: []domain.WatchEntry{{EventID: "ev-1"}}}
	feed := NewFeed(wl, &fakeMarkets{}, testLogger())

	err := feed.Seed(context.Background(), []string{"ev-1", "ev-2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ev-2"}, wl.added)
	assert.Len(t, wl.entries, 2)
}

func TestSnapshotResolvesActiveMarkets(t *testing.T) {
	wl := &fakeWatchlist{entries: []domain.WatchEntry{{EventID: "ev-1"}}}
	markets := &fakeMarkets{byEvent: map[string][]domain.Market{
		"ev-1": {
			mkt("m-1", "ev-1", domain.MarketStatusActive, 1),
			mkt("m-2", "ev-1", domain.MarketStatusClosed, 2),
		},
	}}
	feed := NewFeed(wl, markets, testLogger())

	snap, err := feed.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Markets["ev-1"], 1)
	assert.Equal(t, "m-1", snap.Markets["ev-1"][0].ID)
	assert.Equal(t, []string{"no-1", "yes-1"}, snap.Assets)
	assert.Equal(t, AssetRef{EventID: "ev-1", MarketID: "m-1", Outcome: domain.OutcomeYes}, snap.Refs["yes-1"])
	assert.Equal(t, AssetRef{EventID: "ev-1", MarketID: "m-1", Outcome: domain.OutcomeNo}, snap.Refs["no-1"])
}

func TestSnapshotIncludesEventsWithoutMarkets(t *testing.T) {
	wl := &fakeWatchlist{entries: []domain.WatchEntry{{EventID: "ev-empty"}}}
	feed := NewFeed(wl, &fakeMarkets{}, testLogger())

	snap, err := feed.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Contains(t, snap.Markets, "ev-empty")
	assert.Empty(t, snap.Markets["ev-empty"])
	assert.Empty(t, snap.Assets)
}

func TestDiff(t *testing.T) {
	old := Snapshot{Assets: []string{"a", "b", "c"}}
	next := Snapshot{Assets: []string{"b", "c", "d"}}

	added, removed := Diff(old, next)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"a"}, removed)

	added, removed = Diff(next, next)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
