package domain

import (
	"fmt"
	"time"
)

// SyncCheckpoint records incremental-sync progress for one metadata source.
// Watermark is the maximum updated_at processed so far; BoundaryIDs holds the
// ids already seen at exactly that timestamp, so a page boundary that splits a
// same-timestamp batch is re-fetched without duplicate effect.
//
// The watermark only ever moves forward. A checkpoint that fails Validate is
// treated as corrupt and fatal: incremental sync correctness depends entirely
// on it.
type SyncCheckpoint struct {
	Source      string
	Watermark   time.Time
	BoundaryIDs []string
	UpdatedAt   time.Time
}

// AtBoundary reports whether id was already processed at the watermark.
func (c SyncCheckpoint) AtBoundary(id string) bool {
	for _, b := range c.BoundaryIDs {
		if b == id {
			return true
		}
	}
	return false
}

// Advance returns a new checkpoint moved to watermark with the given boundary
// set. Moving backwards returns ErrCheckpointCorrupt.
func (c SyncCheckpoint) Advance(watermark time.Time, boundaryIDs []string) (SyncCheckpoint, error) {
	if watermark.Before(c.Watermark) {
		return SyncCheckpoint{}, fmt.Errorf(
			"checkpoint %s: watermark %s before current %s: %w",
			c.Source, watermark.Format(time.RFC3339Nano), c.Watermark.Format(time.RFC3339Nano),
			ErrCheckpointCorrupt,
		)
	}
	return SyncCheckpoint{
		Source:      c.Source,
		Watermark:   watermark,
		BoundaryIDs: boundaryIDs,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// Validate checks logical consistency of a checkpoint loaded from the store.
func (c SyncCheckpoint) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("checkpoint has empty source: %w", ErrCheckpointCorrupt)
	}
	if c.Watermark.After(time.Now().UTC().Add(time.Hour)) {
		return fmt.Errorf("checkpoint %s: watermark in the future: %w", c.Source, ErrCheckpointCorrupt)
	}
	return nil
}
