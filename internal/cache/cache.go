package cache

import (
	"context"
	"time"
)

// Cache is the key/value surface the balance views need. Get reports a miss
// with found == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
