package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *testJob) Name() string        { return j.name }
func (j *testJob) Description() string { return "test job" }

func (j *testJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type panicJob struct{}

func (panicJob) Name() string              { return "panic" }
func (panicJob) Description() string       { return "panics" }
func (panicJob) Run(context.Context) error { panic("boom") }

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(DefaultConfig())

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&testJob{name: "a"}, nil), ErrNilSchedule)
	require.NoError(t, s.Register(&testJob{name: "a"}, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(&testJob{name: "a"}, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(DefaultConfig())
	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", err: errors.New("failed")}
	require.NoError(t, s.Register(ok, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(bad, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "failed")

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "bad", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].FailCount)
	assert.Equal(t, int64(1), jobs[1].RunCount)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Runs)
	assert.Equal(t, int64(1), sum.Failures)
	assert.InDelta(t, 0.5, sum.SuccessRate, 1e-9)
	assert.Len(t, s.History(0), 2)
	assert.Equal(t, "bad", s.History(1)[0].JobName)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Register(panicJob{}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "panic")
	assert.ErrorIs(t, err, ErrJobPanicked)
}

func TestScheduler_RunsDueJobsWithoutOverlap(t *testing.T) {
	var mu sync.Mutex
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	s := New(DefaultConfig()).WithClock(clock)
	job := &testJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	// Not due yet.
	s.runDue(context.Background())
	assert.Equal(t, int32(0), job.runs.Load())

	advance(time.Minute)
	s.runDue(context.Background())
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Still running: the next due run is skipped.
	advance(time.Minute)
	s.runDue(context.Background())
	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobInFlight)

	close(job.block)
	s.wg.Wait()
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	s := New(Config{HistorySize: 2})
	require.NoError(t, s.Register(&testJob{name: "j"}, NewIntervalSchedule(time.Hour)))

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })
	for i := 0; i < 3; i++ {
		_, err := s.RunNow(context.Background(), "j")
		require.NoError(t, err)
	}
	assert.Len(t, s.History(0), 2)
	assert.Len(t, completed, 3)
	assert.Equal(t, int64(3), s.ListJobs()[0].RunCount)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Config{TickInterval: 10 * time.Millisecond})
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: EveryMinute},
		{expr: Every10Minutes},
		{expr: "0 9-17/2 * * 1-5"},
		{expr: "15,45 * 1 * *"},
		{expr: "* * *", wantErr: true},
		{expr: "60 * * * *", wantErr: true},
		{expr: "*/0 * * * *", wantErr: true},
		{expr: "5-1 * * * *", wantErr: true},
		{expr: "a * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, s.String())
		})
	}
}

func TestCronSchedule_Next(t *testing.T) {
	base := time.Date(2026, 3, 4, 10, 7, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{EveryMinute, time.Date(2026, 3, 4, 10, 8, 0, 0, time.UTC)},
		{Every10Minutes, time.Date(2026, 3, 4, 10, 10, 0, 0, time.UTC)},
		{EveryHour, time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)},
		{EveryDayMidnight, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"30 9 * * 1", time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParseCron(tt.expr).Next(base))
		})
	}
}

func TestCronSchedule_DayFieldsCombineWithOr(t *testing.T) {
	// 1st of the month or any Friday.
	s := MustParseCron("0 12 1 * 5")
	base := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC) // Wednesday
	assert.Equal(t, time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC), s.Next(base))
}

func TestScheduleFor(t *testing.T) {
	s, err := ScheduleFor("", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "@every 10m0s", s.String())

	s, err = ScheduleFor(Every5Minutes, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Every5Minutes, s.String())

	_, err = ScheduleFor("", 0)
	assert.Error(t, err)
	_, err = ScheduleFor("bad", time.Minute)
	assert.Error(t, err)
}
