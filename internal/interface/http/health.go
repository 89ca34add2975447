package http

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

type HealthCheckFunc func(ctx context.Context) error

// Pinger is satisfied by the postgres and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) HealthCheckFunc { return p.Ping }

// HealthStatus is the /health response body.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthChecker runs its checks in parallel, each under its own timeout.
type HealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		checks:  make(map[string]HealthCheckFunc),
	}
}

func (c *HealthChecker) SetTimeout(d time.Duration) { c.timeout = d }

// AddCheck registers check under name, replacing any previous one.
func (c *HealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

func (c *HealthChecker) snapshot() ([]string, []HealthCheckFunc) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]HealthCheckFunc, len(names))
	for i, name := range names {
		fns[i] = c.checks[name]
	}
	return names, fns
}

// Check is healthy only when every registered check passes.
func (c *HealthChecker) Check(ctx context.Context) HealthStatus {
	names, fns := c.snapshot()
	status := HealthStatus{
		Healthy:   true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(names) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i, fn := range fns {
		g.Go(func() error {
			results[i] = c.probe(ctx, fn)
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = make(map[string]CheckResult, len(names))
	var failed []string
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		status.Healthy = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	} else {
		status.Message = "All checks passed"
	}
	return status
}

func (c *HealthChecker) probe(ctx context.Context, fn HealthCheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	res := CheckResult{Healthy: err == nil, Message: "OK", Duration: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
