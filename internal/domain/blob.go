package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// MarketSnapshot is the exported state of the whole venue at one build.
type MarketSnapshot struct {
	Seq      uint64                `json:"seq"`
	BuiltAt  time.Time             `json:"builtAt"`
	Listings []Listing             `json:"listings"`
	Markets  map[string]MarketData `json:"markets"`
}

// SnapshotArchiver exports market snapshots to cold storage and reads the
// latest one back when the ledger is unreachable.
type SnapshotArchiver interface {
	Export(ctx context.Context, snap MarketSnapshot) (string, error)
	Latest(ctx context.Context) (MarketSnapshot, error)
}
