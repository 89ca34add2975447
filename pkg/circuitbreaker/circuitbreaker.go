// Package circuitbreaker stops calling a failing dependency for a while and
// lets callers fall back to a slower source instead of waiting on timeouts.
//
// A breaker starts closed. FailureThreshold consecutive failures open it;
// after OpenFor it lets up to Probes calls through (half-open). A failed probe
// opens it again, SuccessThreshold successful probes close it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Settings configures New. Zero numeric fields take the defaults noted.
type Settings struct {
	Name             string
	FailureThreshold int           // 5
	SuccessThreshold int           // 2
	OpenFor          time.Duration // 30s
	Probes           int           // 1

	// IsFailure picks which errors count. nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange runs with the breaker lock held.
	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Counts are cumulative since New or the last Reset, except the streaks,
// which restart on every state change.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	Rejected             int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight int // half-open probes admitted
}

func New(s Settings) *CircuitBreaker {
	s.applyDefaults()
	return &CircuitBreaker{s: s}
}

// CacheBreaker is tuned for an optional cache in front of a primary store:
// three failures open it, one good probe after 15s closes it.
func CacheBreaker(name string, isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenFor:          15 * time.Second,
		Probes:           1,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}

// Execute runs fn when the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithFallback is Execute, with fallback taking over on rejection.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if IsRejected(err) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.s.Now().Sub(cb.openedAt) >= cb.s.OpenFor {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		cb.counts.Rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.s.Probes {
			cb.counts.Rejected++
			return ErrTooManyRequests
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := &cb.counts
	c.Requests++

	failed := err != nil && (cb.s.IsFailure == nil || cb.s.IsFailure(err))
	if !failed {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.s.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || c.ConsecutiveFailures >= cb.s.FailureThreshold {
		cb.openedAt = cb.s.Now()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	cb.inFlight = 0

	if cb.s.OnStateChange != nil {
		cb.s.OnStateChange(cb.s.Name, from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears the counts without firing OnStateChange.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.inFlight = 0
}

func (cb *CircuitBreaker) Name() string { return cb.s.Name }
