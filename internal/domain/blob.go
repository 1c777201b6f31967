package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches archive objects. Get reports a missing object as
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies resolved pools out of the primary store.
type Archiver interface {
	ArchivePools(ctx context.Context, before time.Time) (int64, error)
}
