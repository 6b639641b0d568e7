package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// PaperStore implements domain.PaperStore using PostgreSQL.
type PaperStore struct {
	pool *pgxpool.Pool
}

// NewPaperStore creates a new PaperStore backed by the given connection pool.
func NewPaperStore(pool *pgxpool.Pool) *PaperStore {
	return &PaperStore{pool: pool}
}

// InsertOrders appends simulated orders. Replayed IDs are ignored.
func (s *PaperStore) InsertOrders(ctx context.Context, orders []domain.PaperOrder) error {
	if len(orders) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO paper_orders (
			id, signal_id, event_id, market_id, asset_id, outcome,
			side, quantity, limit_price, status, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	for _, o := range orders {
		batch.Queue(query,
			o.ID, o.SignalID, o.EventID, o.MarketID, o.AssetID, string(o.Outcome),
			string(o.Side), o.Quantity, o.LimitPrice, string(o.Status),
			o.CreatedAt, o.ClosedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range orders {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert paper order batch item %d: %w", i, err)
		}
	}
	return nil
}

// InsertFills appends simulated fills. Replayed IDs are ignored.
func (s *PaperStore) InsertFills(ctx context.Context, fills []domain.PaperFill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO paper_fills (id, order_id, quantity, price, fee, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query, f.ID, f.OrderID, f.Quantity, f.Price, f.Fee, f.FilledAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert paper fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// UpsertPositions writes the current state of simulated positions.
func (s *PaperStore) UpsertPositions(ctx context.Context, positions []domain.PaperPosition) error {
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO paper_positions (event_id, market_id, outcome, quantity, avg_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, market_id, outcome) DO UPDATE SET
			quantity   = EXCLUDED.quantity,
			avg_price  = EXCLUDED.avg_price,
			updated_at = EXCLUDED.updated_at`

	for _, p := range positions {
		batch.Queue(query,
			p.EventID, p.MarketID, string(p.Outcome),
			p.Quantity, p.AvgPrice, p.UpdatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range positions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert paper position batch item %d: %w", i, err)
		}
	}
	return nil
}

// UpsertPnL writes per-event profit summaries.
func (s *PaperStore) UpsertPnL(ctx context.Context, pnls []domain.PaperPnL) error {
	if len(pnls) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO paper_pnl (event_id, realized_pnl, unrealized_pnl, fees_paid, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			realized_pnl   = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			fees_paid      = EXCLUDED.fees_paid,
			updated_at     = EXCLUDED.updated_at`

	for _, p := range pnls {
		batch.Queue(query,
			p.EventID, p.RealizedPnL, p.UnrealizedPnL, p.FeesPaid, p.UpdatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range pnls {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert paper pnl batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListPositionsByEvent returns an event's simulated positions.
func (s *PaperStore) ListPositionsByEvent(ctx context.Context, eventID string) ([]domain.PaperPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, market_id, outcome, quantity, avg_price, updated_at
		 FROM paper_positions WHERE event_id = $1 ORDER BY market_id, outcome`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paper positions for %s: %w", eventID, err)
	}
	defer rows.Close()

	var positions []domain.PaperPosition
	for rows.Next() {
		var (
			p       domain.PaperPosition
			outcome string
		)
		if err := rows.Scan(&p.EventID, &p.MarketID, &outcome, &p.Quantity, &p.AvgPrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan paper position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPnL returns the profit summary for an event.
func (s *PaperStore) GetPnL(ctx context.Context, eventID string) (domain.PaperPnL, error) {
	var p domain.PaperPnL
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, realized_pnl, unrealized_pnl, fees_paid, updated_at
		 FROM paper_pnl WHERE event_id = $1`, eventID,
	).Scan(&p.EventID, &p.RealizedPnL, &p.UnrealizedPnL, &p.FeesPaid, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaperPnL{}, domain.ErrNotFound
		}
		return domain.PaperPnL{}, fmt.Errorf("postgres: get paper pnl %s: %w", eventID, err)
	}
	return p, nil
}
