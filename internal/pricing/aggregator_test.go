package pricing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func quoteAt(assetID string, bid, ask float64, asOf time.Time) domain.Quote {
	return domain.Quote{
		AssetID: assetID,
		BestBid: ptr(bid),
		BestAsk: ptr(ask),
		AsOf:    asOf,
		Source:  "ws",
	}
}

func newAgg(t *testing.T) *Aggregator {
	t.Helper()
	return NewAggregator(nil, slog.New(slog.DiscardHandler))
}

func TestUpdateMonotonic(t *testing.T) {
	agg := newAgg(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	assert.True(t, agg.Update(ctx, quoteAt("a1", 0.40, 0.45, t0)))

	// Older update rejected.
	assert.False(t, agg.Update(ctx, quoteAt("a1", 0.10, 0.90, t0.Add(-time.Second))))
	// Equal as_of rejected.
	assert.False(t, agg.Update(ctx, quoteAt("a1", 0.10, 0.90, t0)))

	q, ok := agg.Get("a1")
	require.True(t, ok)
	assert.Equal(t, 0.40, *q.BestBid)

	// Newer update accepted.
	assert.True(t, agg.Update(ctx, quoteAt("a1", 0.41, 0.44, t0.Add(time.Second))))
	q, _ = agg.Get("a1")
	assert.Equal(t, 0.41, *q.BestBid)
}

func TestEventQuotesFreshness(t *testing.T) {
	agg := newAgg(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	agg.Update(ctx, quoteAt("a1", 0.40, 0.45, now.Add(-time.Second)))
	agg.Update(ctx, quoteAt("a2", 0.20, 0.25, now.Add(-20*time.Second)))

	// a2 is stale under a 10s bound.
	_, err := agg.EventQuotes([]string{"a1", "a2"}, 10*time.Second, now)
	require.ErrorIs(t, err, domain.ErrStaleQuote)

	// Missing asset fails the read.
	_, err = agg.EventQuotes([]string{"a1", "zz"}, 10*time.Second, now)
	require.ErrorIs(t, err, domain.ErrMissingQuote)

	// Complete fresh basket succeeds.
	agg.Update(ctx, quoteAt("a2", 0.21, 0.24, now))
	quotes, err := agg.EventQuotes([]string{"a1", "a2"}, 10*time.Second, now)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
}

func TestDrop(t *testing.T) {
	agg := newAgg(t)
	ctx := context.Background()
	now := time.Now().UTC()

	agg.Update(ctx, quoteAt("a1", 0.40, 0.45, now))
	agg.Update(ctx, quoteAt("a2", 0.20, 0.25, now))
	agg.Drop([]string{"a1"})

	_, ok := agg.Get("a1")
	assert.False(t, ok)
	_, ok = agg.Get("a2")
	assert.True(t, ok)
}

type failingCache struct{}

func (failingCache) SetQuote(context.Context, domain.Quote) error {
	return assert.AnError
}
func (failingCache) GetQuote(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}
func (failingCache) GetQuotes(context.Context, []string) (map[string]domain.Quote, error) {
	return nil, domain.ErrNotFound
}

func TestCacheFailureDoesNotReject(t *testing.T) {
	agg := NewAggregator(failingCache{}, slog.New(slog.DiscardHandler))
	ok := agg.Update(context.Background(), quoteAt("a1", 0.40, 0.45, time.Now()))
	assert.True(t, ok)
}
