package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLocked = errors.New("locked")

// instant replaces the timer so tests never block.
func instant(r *Retrier) (*Retrier, *[]time.Duration) {
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

func TestDo_RetriesMarkedErrors(t *testing.T) {
	r, waits := instant(New(Policy{Attempts: 5, Base: 10 * time.Millisecond}))

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errLocked)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestDo_PlainErrorIsNotRetried(t *testing.T) {
	r, _ := instant(New(Policy{Attempts: 5}))

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errLocked
	})
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentOverridesPredicate(t *testing.T) {
	r, _ := instant(New(Policy{ShouldRetry: func(error) bool { return true }}))

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("rank step: %w", Permanent(errLocked))
	})
	assert.Equal(t, errLocked, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(Permanent(errLocked)))
	assert.False(t, IsRetryable(Permanent(errLocked)))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	r, _ := instant(New(Policy{Attempts: 3, Base: time.Millisecond}))

	var notified []int
	r.OnRetry(func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
	})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errLocked)
	})

	assert.Equal(t, errLocked, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(Policy{}).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_CancelledDuringWaitKeepsOperationError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := instant(New(Policy{Attempts: 5}))

	err := r.Do(ctx, func(ctx context.Context) error {
		cancel()
		return Retryable(errLocked)
	})
	assert.Equal(t, errLocked, err)
}

func TestLockRetrier(t *testing.T) {
	r, waits := instant(LockRetrier(4, time.Second, func(err error) bool { return errors.Is(err, errLocked) }))
	assert.Equal(t, 4, r.Attempts())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("update ranks: %w", errLocked)
	})
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 4, calls)
	require.Len(t, *waits, 3)

	// 1s, 2s, 4s each within 20%.
	for i, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		assert.InDelta(t, float64(base), float64((*waits)[i]), float64(base)/5)
	}
}

func TestBackoff_Capped(t *testing.T) {
	r := New(Policy{Base: time.Second, Cap: 5 * time.Second})
	assert.Equal(t, time.Second, r.Backoff(1))
	assert.Equal(t, 4*time.Second, r.Backoff(3))
	assert.Equal(t, 5*time.Second, r.Backoff(4))
	assert.Equal(t, 5*time.Second, r.Backoff(60))
}

func TestValue(t *testing.T) {
	r, _ := instant(New(Policy{}))

	calls := 0
	v, err := Value(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errLocked)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
