// Package storage provides the narrow object-storage interface the core
// consumes, plus the local filesystem driver used for OSS deployments
// and tests. The bucket is private: clients receive short-lived signed
// URLs, never direct paths.
package storage

import (
	"context"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

// ObjectStorage is the adapter the identification pipeline and the
// retention janitor depend on. Implementations must be safe for
// concurrent use.
type ObjectStorage interface {
	// Put stores data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// SignedURL returns a URL that grants read access to key for the
	// given lifetime.
	SignedURL(key string, expiry time.Duration) (string, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
