package gate

import (
	"context"
	"errors"
)

// ErrLimitReached is the normal denial outcome: the file has been accessed
// as many times as its budget allows. It is a policy decision, not a failure.
var ErrLimitReached = errors.New("file access limit reached")

// CounterStore is the durable per-key counter consulted by the gate.
// Implemented by *counter.Store.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Increment(ctx context.Context, key string) (int64, error)
}

// Gate enforces a per-file access budget on top of a [CounterStore].
type Gate struct {
	counters CounterStore
}

// New creates a [Gate] backed by the given counter store.
func New(counters CounterStore) *Gate {
	return &Gate{counters: counters}
}

// CheckAndRecord permits or denies one access to key under the given limit.
// nil means the access is allowed and has been recorded. [ErrLimitReached]
// means the budget is exhausted; the counter is left untouched so repeated
// denials never consume budget. Any other error means the counter backend
// failed and the count is unknown; the caller must fail the request rather
// than serve.
func (g *Gate) CheckAndRecord(ctx context.Context, key string, limit int64) error {
	count, err := g.counters.Get(ctx, key)
	if err != nil {
		return err
	}

	if count >= limit {
		return ErrLimitReached
	}

	if _, err := g.counters.Increment(ctx, key); err != nil {
		return err
	}

	return nil
}

// Count returns the current access count for key without consuming budget.
// The view page uses it to display "n / limit".
func (g *Gate) Count(ctx context.Context, key string) (int64, error) {
	return g.counters.Get(ctx, key)
}
