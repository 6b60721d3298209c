package authgate

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnauthorized means the submitted credentials did not match. The
	// failure has already been recorded against the client's IP.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBackendUnavailable means the failure-record backend did not respond.
	ErrBackendUnavailable = errors.New("auth backoff backend unavailable")
)

// LockedError rejects a request during lockout. Credentials were not
// inspected and the failure count did not move; RetryAfter tells the client
// how long to wait.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed auth attempts, retry after %s", e.RetryAfter)
}

// State classifies an IP's position in the backoff state machine.
type State int

const (
	// StateClear means no recorded failures.
	StateClear State = iota
	// StateWarming means some failures, below the lockout threshold.
	StateWarming
	// StateLocked means requests are rejected without a credential check.
	StateLocked
)

// Config holds credential and backoff tuning parameters.
type Config struct {
	// Username and Password form the single accepted Basic credential.
	Username string
	Password string
	// Threshold is the failure count at which lockout begins. Defaults to 4.
	Threshold int64
	// FailureTTL is how long a failure record survives without new failures.
	// Refreshed on every failure. Defaults to 24h.
	FailureTTL time.Duration
}

// DefaultConfig returns the backoff tuning used in production: lockout after
// 4 failures, records retained for 24 hours.
func DefaultConfig() Config {
	return Config{
		Threshold:  4,
		FailureTTL: 24 * time.Hour,
	}
}

// Gate performs the credential check wrapped in per-IP failure backoff.
type Gate struct {
	redis    redis.UniversalClient
	config   Config
	expected []byte
}

// New creates a [Gate] backed by the given Redis client. The expected
// Authorization header value is precomputed once so the comparison itself
// does no allocation.
func New(redisClient redis.UniversalClient, cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = def.FailureTTL
	}
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	return &Gate{
		redis:    redisClient,
		config:   cfg,
		expected: []byte(expected),
	}
}

// Check runs the full gate for one request: lockout first, then the
// credential comparison. nil means authenticated (and any stale failure
// record for ip has been cleared). [*LockedError] means the IP is locked out
// and credentials were not inspected. [ErrUnauthorized] means the credential
// mismatched and the failure was recorded.
func (g *Gate) Check(ctx context.Context, ip, authorization string) error {
	failCount, err := g.FailureCount(ctx, ip)
	if err != nil {
		return err
	}

	if failCount >= g.config.Threshold {
		return &LockedError{RetryAfter: backoffDelay(failCount)}
	}

	if subtle.ConstantTimeCompare([]byte(authorization), g.expected) != 1 {
		if err := g.recordFailure(ctx, ip); err != nil {
			return err
		}
		return ErrUnauthorized
	}

	// Skip the delete round trip when there is nothing to clear.
	if failCount > 0 {
		if err := g.redis.Del(ctx, failureKey(ip)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return nil
}

// FailureCount returns the recorded consecutive failures for ip. Missing
// records return zero.
func (g *Gate) FailureCount(ctx context.Context, ip string) (int64, error) {
	count, err := g.redis.Get(ctx, failureKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// StateOf reports where ip currently sits in the backoff state machine.
func (g *Gate) StateOf(ctx context.Context, ip string) (State, error) {
	count, err := g.FailureCount(ctx, ip)
	if err != nil {
		return StateClear, err
	}
	switch {
	case count == 0:
		return StateClear, nil
	case count < g.config.Threshold:
		return StateWarming, nil
	default:
		return StateLocked, nil
	}
}

func (g *Gate) recordFailure(ctx context.Context, ip string) error {
	key := failureKey(ip)

	if err := g.redis.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// Every failure restarts the retention clock.
	if err := g.redis.Expire(ctx, key, g.config.FailureTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// backoffDelay is 2^failCount seconds. The shift is clamped only to keep the
// duration arithmetic from overflowing int64 nanoseconds; the policy itself
// has no maximum.
func backoffDelay(failCount int64) time.Duration {
	const maxShift = 33
	if failCount > maxShift {
		failCount = maxShift
	}
	return time.Duration(int64(1)<<failCount) * time.Second
}

func failureKey(ip string) string {
	return "authfail:" + ip
}
