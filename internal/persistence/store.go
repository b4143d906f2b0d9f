// Package persistence provides the key/value blob stores used for data that
// must survive a restart.
package persistence

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("persistence: key not found")

// Store keeps opaque byte blobs together with the time they were last
// written.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	LastWrite(ctx context.Context, key string) (time.Time, error)
	Close() error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
