package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object. ETag and ContentType come from the
// sidecar and are empty when it is missing or unreadable.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Sink receives the body of an object being written. Nothing is visible at
// the destination until Commit returns; Abort discards the temporary file.
type Sink interface {
	io.Writer
	Commit(contentType string) (ObjectInfo, error)
	Abort() error
}

// Backend maps bucket/key addressing onto a storage medium.
//
// Implementations must be safe for concurrent use. Concurrent writers to the
// same key race on commit order (last writer wins); readers observe either the
// previous or the new complete object.
type Backend interface {
	Open(ctx context.Context, bucket, key string) (io.ReadSeekCloser, ObjectInfo, error)
	CreateAtomic(ctx context.Context, bucket, key string) (Sink, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	ReadMeta(ctx context.Context, bucket, key string) (Meta, error)
}

// Observer receives per-operation storage measurements.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}
