package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each asset's top-of-book is stored as a hash at key "quote:{assetID}" with
// fields "bid", "ask", "as_of" (Unix nanosecond timestamp) and "source". A
// missing book side is stored as the field value "-".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.rdb}
}

func quoteKey(assetID string) string {
	return "quote:" + assetID
}

const emptySide = "-"

func formatSide(v *float64) string {
	if v == nil {
		return emptySide
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseSide(s string) (*float64, error) {
	if s == emptySide {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SetQuote stores the latest top-of-book for an asset.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	fields := map[string]interface{}{
		"bid":    formatSide(q.BestBid),
		"ask":    formatSide(q.BestAsk),
		"as_of":  strconv.FormatInt(q.AsOf.UnixNano(), 10),
		"source": q.Source,
	}
	if err := qc.rdb.HSet(ctx, quoteKey(q.AssetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.AssetID, err)
	}
	return nil
}

// GetQuote retrieves the latest top-of-book for an asset.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, assetID string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(assetID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q, err := quoteFromHash(assetID, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: decode quote %s: %w", assetID, err)
	}
	return q, nil
}

// GetQuotes retrieves the latest top-of-book for multiple assets using a
// pipeline. Assets whose keys do not exist or fail to decode are silently
// omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, assetIDs []string) (map[string]domain.Quote, error) {
	if len(assetIDs) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(assetIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := quoteFromHash(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}

	return result, nil
}

func quoteFromHash(assetID string, vals map[string]string) (domain.Quote, error) {
	bidStr, ok := vals["bid"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	askStr, ok := vals["ask"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	asOfStr, ok := vals["as_of"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}

	bid, err := parseSide(bidStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := parseSide(askStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ask: %w", err)
	}
	asOfNano, err := strconv.ParseInt(asOfStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse as_of: %w", err)
	}

	return domain.Quote{
		AssetID: assetID,
		BestBid: bid,
		BestAsk: ask,
		AsOf:    time.Unix(0, asOfNano),
		Source:  vals["source"],
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
