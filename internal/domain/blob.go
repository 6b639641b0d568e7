package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads archive objects to cold storage. PutMultipart is the
// large-payload path; partSize is a hint the backend may clamp.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BlobReader checks and reads back archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged rows from the database to cold storage. Deleting the
// archived rows afterwards is the caller's responsibility.
type Archiver interface {
	ArchiveTicks(ctx context.Context, before time.Time) (int64, error)
	ArchiveSignals(ctx context.Context, before time.Time) (int64, error)
}
