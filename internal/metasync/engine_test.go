package metasync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/alanyoungcy/gmparb/internal/platform/polymarket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGamma struct {
	pages [][]polymarket.APIEvent
	calls int
	since []time.Time
}

func (f *fakeGamma) ListEventsUpdatedSince(_ context.Context, since time.Time, limit, offset int) ([]polymarket.APIEvent, error) {
	f.since = append(f.since, since)
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

type memStore struct {
	events      map[string]domain.Event
	markets     map[string]domain.Market
	checkpoints map[string]domain.SyncCheckpoint
	upsertErr   error
}

func newMemStore() *memStore {
	return &memStore{
		events:      make(map[string]domain.Event),
		markets:     make(map[string]domain.Market),
		checkpoints: make(map[string]domain.SyncCheckpoint),
	}
}

func (s *memStore) UpsertEvents(_ context.Context, events []domain.Event) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return nil
}

func (s *memStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return ev, nil
}

func (s *memStore) ListEvents(_ context.Context, _ domain.EventStatus, _ domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}

func (s *memStore) UpsertMarkets(_ context.Context, markets []domain.Market) error {
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return nil
}

func (s *memStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) ListMarketsByEvent(_ context.Context, eventID string) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.EventID == eventID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) LoadCheckpoint(_ context.Context, source string) (domain.SyncCheckpoint, error) {
	cp, ok := s.checkpoints[source]
	if !ok {
		return domain.SyncCheckpoint{}, domain.ErrNotFound
	}
	return cp, nil
}

func (s *memStore) SaveCheckpoint(_ context.Context, cp domain.SyncCheckpoint) error {
	s.checkpoints[cp.Source] = cp
	return nil
}

func apiEvent(id string, updatedAt time.Time, marketIDs ...string) polymarket.APIEvent {
	ev := polymarket.APIEvent{
		ID:        id,
		Title:     "event " + id,
		Active:    true,
		UpdatedAt: updatedAt.Format(time.RFC3339Nano),
		Raw:       json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
	}
	for i, mid := range marketIDs {
		ev.Markets = append(ev.Markets, polymarket.APIMarket{
			ID:           mid,
			Active:       true,
			ClobTokenIDs: []string{fmt.Sprintf("yes-%d", i), fmt.Sprintf("no-%d", i)},
		})
	}
	return ev
}

func newTestEngine(gamma *fakeGamma, store *memStore) *Engine {
	cfg := Config{
		Interval:   time.Minute,
		PageSize:   2,
		Slack:      2 * time.Second,
		MaxBackoff: time.Minute,
	}
	return NewEngine(cfg, gamma, store, store, store, slog.New(slog.DiscardHandler))
}

func TestCycleFirstRunStoresAndCheckpoints(t *testing.T) {
	t1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	gamma := &fakeGamma{pages: [][]polymarket.APIEvent{
		{apiEvent("ev1", t1, "m1"), apiEvent("ev2", t2, "m2", "m3")},
		{apiEvent("ev3", t2)},
	}}
	store := newMemStore()
	eng := newTestEngine(gamma, store)

	require.NoError(t, eng.Cycle(context.Background()))

	assert.Len(t, store.events, 3)
	assert.Len(t, store.markets, 3)
	assert.Equal(t, "ev2", store.markets["m2"].EventID)

	cp := store.checkpoints[checkpointSource]
	assert.Equal(t, t2, cp.Watermark)
	assert.ElementsMatch(t, []string{"ev2", "ev3"}, cp.BoundaryIDs)

	// First page queried from zero time.
	assert.True(t, gamma.since[0].IsZero())
}

func TestCycleResumesWithSlackAndSkipsBoundary(t *testing.T) {
	t1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.checkpoints[checkpointSource] = domain.SyncCheckpoint{
		Source:      checkpointSource,
		Watermark:   t1,
		BoundaryIDs: []string{"ev1"},
		UpdatedAt:   t1,
	}

	// Source replays ev1 at the watermark plus a genuinely new event.
	t2 := t1.Add(30 * time.Second)
	gamma := &fakeGamma{pages: [][]polymarket.APIEvent{
		{apiEvent("ev1", t1), apiEvent("ev2", t2)},
	}}
	eng := newTestEngine(gamma, store)

	require.NoError(t, eng.Cycle(context.Background()))

	// ev1 was skipped, only ev2 stored.
	assert.NotContains(t, store.events, "ev1")
	assert.Contains(t, store.events, "ev2")

	cp := store.checkpoints[checkpointSource]
	assert.Equal(t, t2, cp.Watermark)
	assert.Equal(t, []string{"ev2"}, cp.BoundaryIDs)

	// Resume window widened by slack.
	assert.Equal(t, t1.Add(-2*time.Second), gamma.since[0])
}

func TestCycleCorruptCheckpointIsFatal(t *testing.T) {
	store := newMemStore()
	store.checkpoints[checkpointSource] = domain.SyncCheckpoint{
		Source:    "", // fails validation
		Watermark: time.Now(),
	}
	eng := newTestEngine(&fakeGamma{}, store)

	err := eng.Cycle(context.Background())
	require.ErrorIs(t, err, domain.ErrCheckpointCorrupt)
}

func TestRunReturnsOnCorruptCheckpoint(t *testing.T) {
	store := newMemStore()
	store.checkpoints[checkpointSource] = domain.SyncCheckpoint{
		Source:    checkpointSource,
		Watermark: time.Now().Add(48 * time.Hour),
	}
	eng := newTestEngine(&fakeGamma{}, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := eng.Run(ctx)
	require.ErrorIs(t, err, domain.ErrCheckpointCorrupt)
}

func TestCycleNoAdvanceWhenUpsertFails(t *testing.T) {
	t1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	gamma := &fakeGamma{pages: [][]polymarket.APIEvent{{apiEvent("ev1", t1)}}}
	store := newMemStore()
	store.upsertErr = fmt.Errorf("db down")
	eng := newTestEngine(gamma, store)

	err := eng.Cycle(context.Background())
	require.Error(t, err)
	assert.NotContains(t, store.checkpoints, checkpointSource)
}
