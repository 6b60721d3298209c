package rate

import "errors"

var (
	// ErrRateLimited means the client exhausted its request budget for the
	// current window. A policy denial, not a failure.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable means the limiter backend failed to respond.
	ErrRedisUnavailable = errors.New("rate limiter backend unavailable")
)
