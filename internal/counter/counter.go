package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the counter backend failed to respond. Callers
// must treat the count as unknown, never as zero.
var ErrUnavailable = errors.New("counter backend unavailable")

// Store is a durable table of non-negative counters, one per logical key.
// Counters are created lazily at zero and mutated only through Increment.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a counter [Store] backed by the given Redis client.
// prefix namespaces the counter keys; the default used by the service is "fc".
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "fc"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

// Get returns the current value for key, 0 if the key has never been
// incremented.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.redis.Get(ctx, s.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Increment atomically adds 1 to the counter for key and returns the new
// value. Concurrent increments for the same key are serialized by the
// backend; no update is ever lost.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	count, err := s.redis.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Delete removes the counter for key. Used when the underlying file is
// deleted so a re-uploaded key starts fresh. Deleting an absent key is a
// no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
