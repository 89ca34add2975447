// Package main is the background worker of the Sudoku Power Index engine.
//
// The worker periodically refreshes every user's score and recomputes the
// leaderboard ranks. After each recompute the Redis mirror of the board is
// rebuilt, so readers in other processes see the new ranks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sudokuhub/power-index/config"
	"github.com/sudokuhub/power-index/internal/infrastructure/scheduler"
	"github.com/sudokuhub/power-index/internal/infrastructure/scheduler/jobs"
	"github.com/sudokuhub/power-index/internal/infrastructure/service"
	"github.com/sudokuhub/power-index/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.Format(cfg.Observability.LogFormat),
	}).With(logger.String("app", cfg.App.Name), logger.String("process", "worker"))

	log.Info("starting worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", string(cfg.Store.Backend)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. BACKENDS & APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	app, err := service.New(ctx, cfg, log, service.Options{AsyncEvents: true})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections...")
		if err := app.Close(); err != nil {
			log.Warn("close failed", logger.Err(err))
		}
	}()

	applied, err := app.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date", logger.Int("applied", applied))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	schedule, err := scheduler.ScheduleFor(cfg.Scheduler.RebuildCron, cfg.Scheduler.RebuildInterval)
	if err != nil {
		return fmt.Errorf("invalid rebuild schedule: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(app.RebuildJob, schedule); err != nil {
		return fmt.Errorf("register %s: %w", jobs.JobName, err)
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Error("job failed", logger.String("job", r.JobName), logger.Err(r.Error))
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Info("worker is running", logger.String("schedule", schedule.String()))

	// Build the board once at startup instead of waiting for the first tick.
	// Failures are logged by OnJobComplete.
	go func() {
		if _, err := sched.RunNow(ctx, jobs.JobName); errors.Is(err, scheduler.ErrJobInFlight) {
			log.Debug("initial rebuild skipped, a scheduled run is in flight")
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler...",
		logger.Duration("timeout", cfg.App.ShutdownTimeout))

	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, abandoning running jobs")
	}

	log.Info("shutdown completed")
	return nil
}
