// Package pricing maintains the in-memory latest quote per asset.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// Aggregator is the authoritative latest-quote view. Updates are accepted
// only when strictly newer than the held quote, so out-of-order delivery
// between the snapshot and stream paths can never roll a price backwards.
//
// An optional QuoteCache mirrors accepted quotes for other processes; cache
// failures are logged and never propagate.
type Aggregator struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote

	cache  domain.QuoteCache
	logger *slog.Logger
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(cache domain.QuoteCache, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		quotes: make(map[string]domain.Quote),
		cache:  cache,
		logger: logger.With(slog.String("component", "pricing")),
	}
}

// Update applies a quote and reports whether it was accepted. Equal as_of is
// rejected: replaying the same observation must be a no-op.
func (a *Aggregator) Update(ctx context.Context, q domain.Quote) bool {
	a.mu.Lock()
	held, ok := a.quotes[q.AssetID]
	if ok && !q.NewerThan(held) {
		a.mu.Unlock()
		return false
	}
	a.quotes[q.AssetID] = q
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.SetQuote(ctx, q); err != nil {
			a.logger.Warn("quote cache write failed",
				slog.String("asset_id", q.AssetID),
				slog.Any("error", err))
		}
	}
	return true
}

// Get returns the held quote for an asset.
func (a *Aggregator) Get(assetID string) (domain.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.quotes[assetID]
	return q, ok
}

// Drop forgets the held quotes for the given assets. Used when markets leave
// the watchlist so their books stop pinning memory.
func (a *Aggregator) Drop(assetIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range assetIDs {
		delete(a.quotes, id)
	}
}

// EventQuotes returns the current quote for every listed asset, enforcing
// the freshness bound. A missing or stale asset fails the whole read: the
// detection math is only sound on a complete, fresh basket.
func (a *Aggregator) EventQuotes(assetIDs []string, maxAge time.Duration, now time.Time) (map[string]domain.Quote, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]domain.Quote, len(assetIDs))
	for _, id := range assetIDs {
		q, ok := a.quotes[id]
		if !ok {
			return nil, fmt.Errorf("pricing: asset %s: %w", id, domain.ErrMissingQuote)
		}
		if now.Sub(q.AsOf) > maxAge {
			return nil, fmt.Errorf("pricing: asset %s as_of %s: %w",
				id, q.AsOf.Format(time.RFC3339), domain.ErrStaleQuote)
		}
		out[id] = q
	}
	return out, nil
}
