package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	// Window is the fixed counting window. Defaults to 60s.
	Window time.Duration
	// Threshold is the number of requests admitted per window per client.
	// Requests beyond it are rejected until the window expires. Defaults
	// to 100.
	Threshold int64
}

// DefaultConfig returns the limiter configuration used in production:
// 100 requests per 60-second window per client IP.
func DefaultConfig() Config {
	return Config{
		Window:    60 * time.Second,
		Threshold: 100,
	}
}

// Limiter enforces a per-client fixed-window request budget using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client. Zero-valued
// config fields fall back to the defaults.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Admit records one request from clientID and decides whether it may proceed.
// Returns nil when admitted, [ErrRateLimited] when the window budget is
// exhausted, and [ErrRedisUnavailable] when the backend fails (the caller
// fails the request; storage trouble is never mistaken for a policy answer).
func (l *Limiter) Admit(ctx context.Context, clientID string) error {
	count, err := l.incrementWithTTL(ctx, rateKey(clientID), l.config.Window)
	if err != nil {
		return err
	}
	if count > l.config.Threshold {
		return ErrRateLimited
	}
	return nil
}

// RetryAfter reports how long clientID has to wait before the current window
// expires. Used to populate the Retry-After header on rejections; a missing
// or expired window reports zero.
func (l *Limiter) RetryAfter(ctx context.Context, clientID string) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, rateKey(clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Count returns the number of requests recorded for clientID in the current
// window. Missing keys return zero.
func (l *Limiter) Count(ctx context.Context, clientID string) (int64, error) {
	count, err := l.redis.Get(ctx, rateKey(clientID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func rateKey(clientID string) string {
	return "rate:" + clientID
}
