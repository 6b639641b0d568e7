package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// QuoteStore implements domain.QuoteStore using PostgreSQL.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// UpsertLatestQuotes writes the newest quote per asset. The as_of guard keeps
// a delayed flush from rolling a row backwards.
func (s *QuoteStore) UpsertLatestQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO asset_price_latest (asset_id, best_bid, best_ask, as_of, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id) DO UPDATE SET
			best_bid = EXCLUDED.best_bid,
			best_ask = EXCLUDED.best_ask,
			as_of    = EXCLUDED.as_of,
			source   = EXCLUDED.source
		WHERE asset_price_latest.as_of < EXCLUDED.as_of`

	for _, q := range quotes {
		batch.Queue(query, q.AssetID, q.BestBid, q.BestAsk, q.AsOf, q.Source)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert latest quote batch item %d: %w", i, err)
		}
	}
	return nil
}

// InsertTicks appends tick history. Replayed (asset_id, as_of) pairs are
// silently ignored so at-least-once delivery stays idempotent.
func (s *QuoteStore) InsertTicks(ctx context.Context, ticks []domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO asset_price_ticks (
			asset_id, market_id, outcome, best_bid, best_ask, mid, as_of, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, as_of) DO NOTHING`

	for _, t := range ticks {
		batch.Queue(query,
			t.AssetID, t.MarketID, string(t.Outcome),
			t.BestBid, t.BestAsk, t.Mid, t.AsOf, t.Source)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ticks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert tick batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListTicks returns ticks for an asset within [from, to), oldest first.
func (s *QuoteStore) ListTicks(ctx context.Context, assetID string, from, to time.Time, opts domain.ListOpts) ([]domain.PriceTick, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, market_id, outcome, best_bid, best_ask, mid, as_of, source
		 FROM asset_price_ticks
		 WHERE asset_id = $1 AND as_of >= $2 AND as_of < $3
		 ORDER BY as_of
		 LIMIT $4 OFFSET $5`,
		assetID, from, to, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks for %s: %w", assetID, err)
	}
	defer rows.Close()

	var ticks []domain.PriceTick
	for rows.Next() {
		var t domain.PriceTick
		var outcome string
		if err := rows.Scan(
			&t.AssetID, &t.MarketID, &outcome,
			&t.BestBid, &t.BestAsk, &t.Mid, &t.AsOf, &t.Source,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan tick: %w", err)
		}
		t.Outcome = domain.Outcome(outcome)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// ListTicksBefore returns all ticks observed strictly before the cutoff,
// oldest first. Used by the archiver ahead of a retention prune.
func (s *QuoteStore) ListTicksBefore(ctx context.Context, before time.Time) ([]domain.PriceTick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, market_id, outcome, best_bid, best_ask, mid, as_of, source
		 FROM asset_price_ticks
		 WHERE as_of < $1
		 ORDER BY as_of`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var ticks []domain.PriceTick
	for rows.Next() {
		var t domain.PriceTick
		var outcome string
		if err := rows.Scan(
			&t.AssetID, &t.MarketID, &outcome,
			&t.BestBid, &t.BestAsk, &t.Mid, &t.AsOf, &t.Source,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan tick: %w", err)
		}
		t.Outcome = domain.Outcome(outcome)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// DeleteTicksBefore prunes tick history older than cutoff and returns the
// number of rows removed.
func (s *QuoteStore) DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM asset_price_ticks WHERE as_of < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
