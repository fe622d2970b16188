package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. Misses and cache errors must never
// be fatal for callers; the database stays the source of truth.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
