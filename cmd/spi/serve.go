package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudokuhub/power-index/internal/infrastructure/scheduler"
	"github.com/sudokuhub/power-index/internal/infrastructure/service"
	api "github.com/sudokuhub/power-index/internal/interface/http"
	"github.com/sudokuhub/power-index/pkg/logger"
)

var (
	serveMigrate   bool
	serveScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API",
	Long: `serve exposes the leaderboard, user standings, puzzle completions and, when
ADMIN_API_KEY_HASH is set, the admin recompute endpoint.

With --with-scheduler the periodic rebuild runs in the same process, which
is convenient for single-node deployments without cmd/worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, service.Options{AsyncEvents: true}, runServe)
	},
}

func runServe(ctx context.Context, c *service.Container) error {
	cfg := c.Config

	if serveMigrate {
		applied, err := c.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	health := api.NewHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", api.PingCheck(c.DB))
	if c.Cache != nil {
		health.AddCheck("redis", api.PingCheck(c.Cache))
	}

	httpCfg := api.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.AdminKeyHash = cfg.HTTP.AdminKeyHash
	httpCfg.RateLimit = api.RateLimitConfig{
		RequestsPerMinute: cfg.HTTP.RateLimitPerMinute,
		BurstSize:         cfg.HTTP.RateLimitBurst,
		IdleTTL:           api.DefaultRateLimitConfig().IdleTTL,
		TrustForwardedFor: cfg.HTTP.TrustForwardedFor,
	}

	server := api.NewServer(httpCfg, api.Dependencies{
		GetLeaderboard:   c.GetLeaderboard,
		GetUserStanding:  c.GetUserStanding,
		RecordCompletion: c.RecordCompletion,
		Rebuilder:        c.RebuildJob,
		Health:           health,
		Logger:           c.Log,
	})

	if serveScheduler {
		sched, err := startScheduler(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				c.Log.Warn("scheduler stop failed", logger.Err(err))
			}
		}()
	}

	errCh := server.StartAsync()
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func startScheduler(ctx context.Context, c *service.Container) (*scheduler.Scheduler, error) {
	sc := c.Config.Scheduler
	schedule, err := scheduler.ScheduleFor(sc.RebuildCron, sc.RebuildInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:     c.Log,
		Timezone:   c.Config.App.Location,
		JobTimeout: sc.JobTimeout,
	})
	if err := sched.Register(c.RebuildJob, schedule); err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending migrations before serving")
	serveCmd.Flags().BoolVar(&serveScheduler, "with-scheduler", false, "run the periodic rebuild in this process")
}
