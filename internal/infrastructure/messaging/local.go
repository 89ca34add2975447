// Package messaging carries domain events between the command handlers and
// their subscribers: LocalBus inside one process, RedisBus across the API
// server and the worker.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

var (
	ErrEventBusClosed    = errors.New("event bus is closed")
	ErrHandlerPanic      = errors.New("handler panicked")
	ErrEventNotSupported = errors.New("event type not supported")
	errNilHandler        = errors.New("handler cannot be nil")
	errNilEvent          = errors.New("event cannot be nil")
)

// LocalConfig configures NewLocalBus.
type LocalConfig struct {
	// Async hands every delivery to a goroutine; Publish returns immediately.
	Async bool
	// Workers bounds concurrent async deliveries. Default 4.
	Workers int
	Logger  *logger.Logger
}

// LocalBus delivers events to handlers registered in this process.
// Handler errors and panics are logged and counted, never returned.
type LocalBus struct {
	async bool
	sem   *semaphore.Weighted
	log   *logger.Logger
	stats Stats

	mu      sync.RWMutex
	byType  map[shared.EventType][]shared.EventHandler
	all     []shared.EventHandler
	closed  bool
	pending sync.WaitGroup

	// stop cancels async deliveries still waiting for a worker slot.
	stop   context.Context
	cancel context.CancelFunc
}

func NewLocalBus(cfg LocalConfig) *LocalBus {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	stop, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		async:  cfg.Async,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		log:    cfg.Logger.With(logger.Component("event_bus")),
		byType: make(map[shared.EventType][]shared.EventHandler),
		stop:   stop,
		cancel: cancel,
	}
}

func (b *LocalBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	return b.register(func() { b.byType[t] = append(b.byType[t], h) }, h)
}

func (b *LocalBus) SubscribeAll(h shared.EventHandler) error {
	return b.register(func() { b.all = append(b.all, h) }, h)
}

func (b *LocalBus) register(add func(), h shared.EventHandler) error {
	if h == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish fans event out to the type's handlers first, then to SubscribeAll
// handlers.
func (b *LocalBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.all))
	targets = append(append(targets, typed...), b.all...)
	if b.async {
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.published.Add(1)

	for _, h := range targets {
		if b.async {
			go b.deliverAsync(event, h)
			continue
		}
		b.deliver(event, h)
	}
	return nil
}

func (b *LocalBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.pending.Done()
	if err := b.sem.Acquire(b.stop, 1); err != nil {
		return
	}
	defer b.sem.Release(1)
	b.deliver(event, h)
}

func (b *LocalBus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := b.call(event, h)
	b.stats.record(time.Since(start), err)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

func (b *LocalBus) call(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logger.String("event_type", string(event.EventType())),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects further Publish calls and waits for deliveries already
// running. Deliveries still queued for a worker are dropped.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.pending.Wait()
	b.log.Debug("event bus closed")
	return nil
}

func (b *LocalBus) Stats() StatsSnapshot { return b.stats.snapshot() }

// ═══════════════════════════════════════════════════════════════════════════
// STATS
// ═══════════════════════════════════════════════════════════════════════════

// Stats counts publishes and handler runs.
type Stats struct {
	published atomic.Int64
	runs      atomic.Int64
	failures  atomic.Int64
	busy      atomic.Int64 // nanoseconds spent in handlers
}

func (s *Stats) record(d time.Duration, err error) {
	s.runs.Add(1)
	s.busy.Add(int64(d))
	if err != nil {
		s.failures.Add(1)
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published   int64
	HandlerRuns int64
	Failures    int64
	AvgHandler  time.Duration
}

// SuccessRate is 1 when no handler has run yet.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.HandlerRuns == 0 {
		return 1
	}
	return float64(s.HandlerRuns-s.Failures) / float64(s.HandlerRuns)
}

func (s *Stats) snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Published:   s.published.Load(),
		HandlerRuns: s.runs.Load(),
		Failures:    s.failures.Load(),
	}
	if snap.HandlerRuns > 0 {
		snap.AvgHandler = time.Duration(s.busy.Load() / snap.HandlerRuns)
	}
	return snap
}
