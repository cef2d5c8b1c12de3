// Package cache holds the identifier correlation cache: a small keyed,
// TTL-bound string store plus the key scheme used to correlate CEIDs,
// NHS numbers and generated documents.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when a store operation is called without a key.
var ErrEmptyKey = errors.New("cache: empty key")

// Store is an atomic key-value store. A missing key is reported as
// ("", false, nil), never as an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}
