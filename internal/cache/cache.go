// Package cache provides the short-lived probe result cache.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL. Memory and Redis backends are interchangeable.
type Cache interface {
	// Get returns the value or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// Error is a cache error value.
type Error string

func (e Error) Error() string { return string(e) }

// ErrCacheMiss indicates the key is absent or expired.
const ErrCacheMiss Error = "cache miss"
