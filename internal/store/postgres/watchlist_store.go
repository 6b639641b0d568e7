package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// WatchlistStore implements domain.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a new WatchlistStore backed by the given pool.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// AddWatch adds an event to the watchlist. Adding an existing entry returns
// ErrAlreadyExists.
func (s *WatchlistStore) AddWatch(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (event_id) VALUES ($1)
		 ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return fmt.Errorf("postgres: add watch %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: watch %s: %w", eventID, domain.ErrAlreadyExists)
	}
	return nil
}

// RemoveWatch removes an event from the watchlist.
func (s *WatchlistStore) RemoveWatch(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("postgres: remove watch %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: watch %s: %w", eventID, domain.ErrNotFound)
	}
	return nil
}

// ListWatches returns every watchlist entry, oldest first.
func (s *WatchlistStore) ListWatches(ctx context.Context) ([]domain.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, added_at FROM watchlist ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watches: %w", err)
	}
	defer rows.Close()

	var entries []domain.WatchEntry
	for rows.Next() {
		var e domain.WatchEntry
		if err := rows.Scan(&e.EventID, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watch: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
