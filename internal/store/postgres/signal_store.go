package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL. The signal log
// is append-only; rows are never updated.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// InsertSignals appends detected signals. Replayed IDs are ignored so retried
// flushes stay idempotent.
func (s *SignalStore) InsertSignals(ctx context.Context, signals []domain.ArbSignal) error {
	if len(signals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO arb_signals (id, event_id, as_of, kind, cost, fee, edge, legs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	for _, sig := range signals {
		legs, err := json.Marshal(sig.Legs)
		if err != nil {
			return fmt.Errorf("postgres: marshal signal legs %s: %w", sig.ID, err)
		}
		batch.Queue(query,
			sig.ID, sig.EventID, sig.AsOf, string(sig.Kind),
			sig.Cost, sig.Fee, sig.Edge, legs)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range signals {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert signal batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSignalsBefore returns all signals detected strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *SignalStore) ListSignalsBefore(ctx context.Context, before time.Time) ([]domain.ArbSignal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, as_of, kind, cost, fee, edge, legs
		 FROM arb_signals
		 WHERE as_of < $1
		 ORDER BY as_of`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before cutoff: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ListSignalsByEvent returns an event's signals, newest first.
func (s *SignalStore) ListSignalsByEvent(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.ArbSignal, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, as_of, kind, cost, fee, edge, legs
		 FROM arb_signals
		 WHERE event_id = $1
		 ORDER BY as_of DESC
		 LIMIT $2 OFFSET $3`,
		eventID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals for %s: %w", eventID, err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func scanSignals(rows pgx.Rows) ([]domain.ArbSignal, error) {
	var signals []domain.ArbSignal
	for rows.Next() {
		var (
			sig  domain.ArbSignal
			kind string
			legs []byte
		)
		if err := rows.Scan(&sig.ID, &sig.EventID, &sig.AsOf, &kind, &sig.Cost, &sig.Fee, &sig.Edge, &legs); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		sig.Kind = domain.SignalKind(kind)
		if err := json.Unmarshal(legs, &sig.Legs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal signal legs %s: %w", sig.ID, err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
