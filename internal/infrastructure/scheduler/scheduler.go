// Package scheduler runs background jobs on interval or cron schedules.
// The worker process uses it to rebuild the leaderboard periodically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sudokuhub/power-index/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobInFlight             = errors.New("job is already running")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a named unit of background work. Run gets a context that ends
// when the scheduler stops or the job timeout expires.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the run times of a job.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

// Config configures New.
type Config struct {
	Logger       *logger.Logger
	Timezone     *time.Location // cron fields are read in this zone; UTC when nil
	TickInterval time.Duration  // how often due jobs are checked
	JobTimeout   time.Duration  // 0 leaves runs unbounded
	HistorySize  int            // results kept for History
}

func DefaultConfig() Config {
	return Config{Timezone: time.UTC, TickInterval: time.Second, HistorySize: 100}
}

// Scheduler starts due jobs from a ticker loop. A job never overlaps with
// itself: a due tick is skipped while the previous run is in progress, and
// RunNow fails with ErrJobInFlight.
type Scheduler struct {
	cfg   Config
	log   *logger.Logger
	clock func() time.Time

	mu        sync.Mutex
	jobs      map[string]*entry
	history   []JobResult
	onDone    func(JobResult)
	cancel    context.CancelFunc
	startedAt time.Time

	wg sync.WaitGroup
}

type entry struct {
	job      Job
	schedule Schedule
	busy     atomic.Bool

	// guarded by Scheduler.mu
	next     time.Time
	last     *JobResult
	runs     int64
	failures int64
	busyTime time.Duration
}

func New(cfg Config) *Scheduler {
	d := DefaultConfig()
	if cfg.Timezone == nil {
		cfg.Timezone = d.Timezone
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = d.TickInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = d.HistorySize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Scheduler{
		cfg:   cfg,
		log:   cfg.Logger.With(logger.Component("scheduler")),
		clock: time.Now,
		jobs:  make(map[string]*entry),
	}
}

// WithClock replaces the time source. Call it before Register.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) now() time.Time { return s.clock().In(s.cfg.Timezone) }

// Register adds job under its name, first due at schedule.Next(now).
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, next: schedule.Next(s.now())}
	s.jobs[name] = e

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", e.next),
	)
	return nil
}

// OnJobComplete installs fn to run after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	s.onDone = fn
	s.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = s.clock()

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return ErrSchedulerNotRunning
	}

	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", s.clock().Sub(s.startedAt)))
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.runDue(ctx)
		}
	}
}

// runDue starts every job whose next run time has passed and advances it.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for name, e := range s.jobs {
		if e.next.IsZero() || now.Before(e.next) {
			continue
		}
		e.next = e.schedule.Next(now)
		if !e.busy.CompareAndSwap(false, true) {
			s.log.Warn("previous run still in progress, skipping", logger.String("job", name))
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.run(ctx, e, false)
		}(e)
	}
}

// RunNow runs the job in the caller's goroutine, off schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrJobInFlight, name)
	}

	res := s.run(ctx, e, true)
	return &res, res.Error
}

// run executes e, which the caller has already marked busy.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	defer e.busy.Store(false)

	name := e.job.Name()
	log := s.log.With(logger.String("job", name))
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	log.Info("job started", logger.Bool("manual", manual))
	start := s.clock()
	err := guard(ctx, e.job)
	end := s.clock()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	e.last = &res
	e.runs++
	e.busyTime += res.Duration
	if err != nil {
		e.failures++
	}
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
	hook := s.onDone
	s.mu.Unlock()

	if err != nil {
		log.Error("job failed", logger.Duration("duration", res.Duration), logger.Err(err))
	} else {
		log.Info("job completed", logger.Duration("duration", res.Duration))
	}
	if hook != nil {
		hook(res)
	}
	return res
}

func guard(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

// ═══════════════════════════════════════════════════════════════════════════
// STATUS
// ═══════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Running     bool
	Schedule    string
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns every job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Running:     e.busy.Load(),
			Schedule:    e.schedule.String(),
			NextRun:     e.next,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns up to limit most recent results, oldest first.
// limit <= 0 returns everything kept.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	return append([]JobResult(nil), s.history[n-limit:]...)
}

// Summary aggregates every run since New.
type Summary struct {
	Runs        int64
	Failures    int64
	SuccessRate float64
	AvgDuration time.Duration
}

func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	var total time.Duration
	for _, e := range s.jobs {
		sum.Runs += e.runs
		sum.Failures += e.failures
		total += e.busyTime
	}
	if sum.Runs > 0 {
		sum.SuccessRate = float64(sum.Runs-sum.Failures) / float64(sum.Runs)
		sum.AvgDuration = total / time.Duration(sum.Runs)
	}
	return sum
}
