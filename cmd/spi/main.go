// Command spi is the operator CLI of the Sudoku Power Index engine.
//
//	spi migrate            apply pending schema migrations
//	spi recompute          refresh every score and recompute ranks
//	spi refresh-user <id>  refresh a single user's score
//	spi ranks              recompute ranks over the cached scores
//	spi top -n 10          print the head of the leaderboard
//	spi serve              run the REST API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sudokuhub/power-index/config"
	"github.com/sudokuhub/power-index/internal/infrastructure/service"
	"github.com/sudokuhub/power-index/pkg/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "spi",
	Short: "Sudoku Power Index leaderboard engine",
	Long: `spi scores solvers by the difficulty and speed of their completed puzzles
and maintains the ranked leaderboard.

Configuration is read from the environment, see config.Load.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(migrateCmd, recomputeCmd, refreshUserCmd, ranksCmd, topCmd, serveCmd)
}

// bootstrap loads configuration and wires the container for one command.
func bootstrap(ctx context.Context, opts service.Options) (*service.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(level),
		Format: logger.Format(cfg.Observability.LogFormat),
	}).With(logger.String("app", cfg.App.Name), logger.String("process", "spi"))

	return service.New(ctx, cfg, log, opts)
}

// withContainer runs fn against a freshly wired container and closes it.
func withContainer(cmd *cobra.Command, opts service.Options, fn func(ctx context.Context, c *service.Container) error) error {
	ctx := cmd.Context()
	c, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.Log.Warn("close failed", logger.Err(err))
		}
	}()
	return fn(ctx, c)
}
