package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader checks object storage for existing data.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveResult counts what one archive run uploaded.
type ArchiveResult struct {
	Day     time.Time
	Trades  int
	Audit   int
	Skipped bool
}

// Archiver copies one UTC day of processed trades and audit entries to
// cold storage.
type Archiver interface {
	ArchiveDay(ctx context.Context, day time.Time) (ArchiveResult, error)
}
