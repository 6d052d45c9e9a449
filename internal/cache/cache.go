package cache

import (
	"context"
	"time"
)

// BytesCache — кэш сериализованных снимков. Промах — (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
