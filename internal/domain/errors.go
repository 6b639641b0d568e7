package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint would be violated.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCheckpointCorrupt indicates a sync checkpoint failed validation.
	// Callers must treat this as fatal rather than resyncing from zero.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrStaleQuote indicates a quote is older than the freshness bound.
	ErrStaleQuote = errors.New("quote stale")

	// ErrMissingQuote indicates no quote has been observed for an asset yet.
	ErrMissingQuote = errors.New("quote missing")

	// ErrWSDisconnect indicates the websocket connection dropped and the
	// stream must resnapshot before resuming.
	ErrWSDisconnect = errors.New("websocket disconnected")

	// ErrRateLimited indicates the upstream API rejected a request with 429.
	ErrRateLimited = errors.New("rate limited")
)
