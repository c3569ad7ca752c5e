package ports

import (
	"context"
	"time"
)

// ResultCache stores serialized report results for a bounded time.
// It is an optimization only: a miss or an error means "recompute".
type ResultCache interface {
	// Get returns the cached value; ok=false on miss or expiry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
