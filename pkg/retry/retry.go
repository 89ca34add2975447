// Package retry re-runs operations that fail transiently, waiting an
// exponentially growing, jittered interval between attempts.
//
// The rank recomputation is the main caller: UpdateRanks refuses to run
// while another process holds the rank lock, and the caller simply tries
// again a little later.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ═══════════════════════════════════════════════════════════════════════════

type marked struct {
	err       error
	permanent bool
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Retryable marks err as worth another attempt under the default predicate.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

// Permanent stops the loop immediately, whatever the predicate says.
// The marker is stripped from the returned error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, permanent: true}
}

func markOf(err error) (*marked, bool) {
	var m *marked
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}

// IsRetryable reports whether err carries the Retryable marker.
func IsRetryable(err error) bool {
	m, ok := markOf(err)
	return ok && !m.permanent
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	m, ok := markOf(err)
	return ok && m.permanent
}

// ═══════════════════════════════════════════════════════════════════════════
// POLICY
// ═══════════════════════════════════════════════════════════════════════════

// Policy describes how many times to try and how long to wait in between.
// The wait before retry n (1-based) is Base*2^(n-1), capped at Cap and then
// spread by ±Jitter of itself.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Jitter   float64

	// ShouldRetry decides which errors earn another attempt.
	// nil means only errors wrapped with Retryable.
	ShouldRetry func(error) bool
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy  Policy
	onRetry func(attempt int, err error, wait time.Duration)
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a Retrier for p. Missing fields fall back to three attempts
// and a 100ms base wait capped at 30s.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.Cap < p.Base {
		p.Cap = 30 * time.Second
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p, sleep: sleepCtx}
}

// LockRetrier retries only errors matched by retryIf, doubling from
// initialDelay up to 10s with 20% jitter.
func LockRetrier(attempts int, initialDelay time.Duration, retryIf func(error) bool) *Retrier {
	return New(Policy{
		Attempts:    attempts,
		Base:        initialDelay,
		Cap:         10 * time.Second,
		Jitter:      0.2,
		ShouldRetry: retryIf,
	})
}

// OnRetry registers fn to be called before every wait. It returns r.
func (r *Retrier) OnRetry(fn func(attempt int, err error, wait time.Duration)) *Retrier {
	r.onRetry = fn
	return r
}

// Attempts returns the total number of tries, the first one included.
func (r *Retrier) Attempts() int { return r.policy.Attempts }

// Do runs op until it succeeds, returns an error the policy does not retry,
// runs out of attempts or ctx ends. The last operation error wins over the
// context error once at least one attempt has been made.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if m, ok := markOf(err); ok && m.permanent {
			return m.err
		}
		if !r.retries(err) || attempt >= r.policy.Attempts {
			return strip(err)
		}

		wait := r.Backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}
		if r.sleep(ctx, wait) != nil {
			return strip(err)
		}
	}
}

// Backoff returns the wait before retry number attempt.
func (r *Retrier) Backoff(attempt int) time.Duration {
	wait := r.policy.Base
	for i := 1; i < attempt && wait < r.policy.Cap; i++ {
		wait *= 2
	}
	if wait > r.policy.Cap {
		wait = r.policy.Cap
	}
	if j := r.policy.Jitter; j > 0 {
		spread := float64(wait) * j * (2*rand.Float64() - 1)
		wait += time.Duration(spread)
	}
	if wait < 0 {
		return 0
	}
	return wait
}

func (r *Retrier) retries(err error) bool {
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(err)
	}
	return IsRetryable(err)
}

// strip removes a top-level Retryable marker.
func strip(err error) error {
	if m, ok := err.(*marked); ok {
		return m.err
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
