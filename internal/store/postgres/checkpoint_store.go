package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// LoadCheckpoint returns the checkpoint for a source, or ErrNotFound when the
// source has never synced.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, source string) (domain.SyncCheckpoint, error) {
	var cp domain.SyncCheckpoint
	err := s.pool.QueryRow(ctx,
		`SELECT source, watermark, boundary_ids, updated_at
		 FROM sync_checkpoints WHERE source = $1`, source,
	).Scan(&cp.Source, &cp.Watermark, &cp.BoundaryIDs, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncCheckpoint{}, domain.ErrNotFound
		}
		return domain.SyncCheckpoint{}, fmt.Errorf("postgres: load checkpoint %s: %w", source, err)
	}
	return cp, nil
}

// SaveCheckpoint writes a checkpoint. The watermark guard in the query keeps
// a delayed writer from moving a checkpoint backwards.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp domain.SyncCheckpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_checkpoints (source, watermark, boundary_ids, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source) DO UPDATE SET
			watermark    = EXCLUDED.watermark,
			boundary_ids = EXCLUDED.boundary_ids,
			updated_at   = EXCLUDED.updated_at
		 WHERE sync_checkpoints.watermark <= EXCLUDED.watermark`,
		cp.Source, cp.Watermark, cp.BoundaryIDs, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint %s: %w", cp.Source, err)
	}
	return nil
}
