package rate

import "errors"

var (
	// ErrRateLimited is returned by Window.Hit once a key is over budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
