package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one archived object as listed by the bucket.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter puts trade archives into object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart is used for archives too large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads trade archives back. Get returns ErrNotFound for a
// missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves persisted trades older than a cutoff into cold storage and
// reports how many rows it removed.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
