package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject is one object in the execution archive.
type ArchiveObject struct {
	Key         string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// ArchiveStore is the object storage behind the execution journal. Keys are
// slash-separated; Objects returns them in key order.
type ArchiveStore interface {
	// Upload stores body under key. A positive partSize switches to a
	// multipart upload in chunks of that size.
	Upload(ctx context.Context, key string, body io.Reader, contentType string, partSize int64) error
	// Open returns the object body; ErrNotFound when key is absent.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns ErrNotFound when key is absent.
	Stat(ctx context.Context, key string) (ArchiveObject, error)
	Objects(ctx context.Context, prefix string) ([]ArchiveObject, error)
}

// Journal archives execution results to cold storage.
type Journal interface {
	ArchiveExecution(ctx context.Context, res ExecutionResult) error
	ExportBefore(ctx context.Context, before time.Time) (int64, error)
}
