package sequence

import (
	"context"
	"fmt"
)

// DefaultMaxAttempts bounds the optimistic retry loop.
const DefaultMaxAttempts = 16

// CASCounter is the primitive for stores that offer conditional writes but no
// atomic upsert.
type CASCounter interface {
	// Load returns the current value and whether the counter exists.
	Load(ctx context.Context, name string) (int64, bool, error)
	// Insert creates the counter with value, reporting false if it already exists.
	Insert(ctx context.Context, name string, value int64) (bool, error)
	// CompareAndSwap sets the counter to next only if it still holds prev.
	CompareAndSwap(ctx context.Context, name string, prev, next int64) (bool, error)
}

// OptimisticCounter adapts a CASCounter into an AtomicCounter with a bounded
// read-compare-write loop.
type OptimisticCounter struct {
	cas         CASCounter
	maxAttempts int
	onRetry     func()
}

// NewOptimisticCounter returns a counter over cas. maxAttempts <= 0 means
// DefaultMaxAttempts. onRetry, when set, is called for every lost race.
func NewOptimisticCounter(cas CASCounter, maxAttempts int, onRetry func()) *OptimisticCounter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &OptimisticCounter{cas: cas, maxAttempts: maxAttempts, onRetry: onRetry}
}

func (o *OptimisticCounter) Increment(ctx context.Context, name string) (int64, error) {
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, found, err := o.cas.Load(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("loading counter: %w", err)
		}

		var won bool
		if !found {
			won, err = o.cas.Insert(ctx, name, 1)
			current = 0
		} else {
			won, err = o.cas.CompareAndSwap(ctx, name, current, current+1)
		}
		if err != nil {
			return 0, fmt.Errorf("writing counter: %w", err)
		}
		if won {
			return current + 1, nil
		}
		if o.onRetry != nil {
			o.onRetry()
		}
	}
	return 0, fmt.Errorf("counter %q after %d attempts: %w", name, o.maxAttempts, ErrContention)
}
