package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window counts hits per key in Redis fixed windows. A window opens on the
// first hit of a key and closes when its TTL elapses.
type Window struct {
	redis  redis.UniversalClient
	prefix string
}

// NewWindow creates a [Window] whose keys are namespaced by prefix.
func NewWindow(redisClient redis.UniversalClient, prefix string) *Window {
	return &Window{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Hit records one hit against key and returns ErrRateLimited once the
// window holds more than maxHits.
func (w *Window) Hit(ctx context.Context, key string, maxHits int, window time.Duration) error {
	count, err := w.incrementWithTTL(ctx, w.key(key), window)
	if err != nil {
		return err
	}
	if count > int64(maxHits) {
		return ErrRateLimited
	}
	return nil
}

// Count returns the hits recorded for key in the current window.
// Missing keys return zero.
func (w *Window) Count(ctx context.Context, key string) (int, error) {
	count, err := w.redis.Get(ctx, w.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset closes the window for key.
func (w *Window) Reset(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, w.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *Window) key(key string) string {
	return w.prefix + ":" + key
}

func (w *Window) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
