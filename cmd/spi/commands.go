package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sudokuhub/power-index/internal/application/command"
	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/postgres"
	"github.com/sudokuhub/power-index/internal/infrastructure/service"
	"github.com/sudokuhub/power-index/pkg/logger"
	"github.com/sudokuhub/power-index/pkg/retry"
	"github.com/sudokuhub/power-index/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

var (
	migrateRollback bool
	migrateStatus   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or list schema migrations",
	Example: `  spi migrate
  spi migrate --status
  spi migrate --rollback`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateRollback && migrateStatus {
			return fmt.Errorf("--rollback and --status are mutually exclusive")
		}
		return withContainer(cmd, service.Options{WithoutRedis: true}, func(ctx context.Context, c *service.Container) error {
			m := postgres.NewMigrator(c.DB)
			switch {
			case migrateStatus:
				migrations, err := m.Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, mg := range migrations {
					applied := "pending"
					if mg.IsApplied {
						applied = mg.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
				}
				return w.Flush()

			case migrateRollback:
				if err := m.Rollback(ctx); err != nil {
					return err
				}
				fmt.Println("rolled back the latest migration")
				return nil

			default:
				applied, err := m.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			}
		})
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE
// ══════════════════════════════════════════════════════════════════════════════

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Refresh every user's score and recompute the ranks",
	Long: `recompute runs the same rebuild as the worker's scheduled job: it takes the
distributed rebuild lock when Redis is available, refreshes all scores and
recomputes the ranks with retry on lock or write conflicts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, service.Options{}, func(ctx context.Context, c *service.Container) error {
			stats, err := c.RebuildJob.Rebuild(ctx)
			if err != nil {
				return err
			}
			if stats.Skipped {
				fmt.Println("another rebuild is in progress, nothing done")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "run\t%s\n", stats.RunID)
			fmt.Fprintf(w, "users\t%d\n", stats.Users)
			fmt.Fprintf(w, "refreshed\t%d\n", stats.Refreshed)
			fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
			fmt.Fprintf(w, "ranked\t%d\n", stats.Ranked)
			fmt.Fprintf(w, "rank changes\t%d\n", stats.RankChanges)
			fmt.Fprintf(w, "rank attempts\t%d\n", stats.RankAttempts)
			fmt.Fprintf(w, "duration\t%s\n", stats.Duration.Round(time.Millisecond))
			return w.Flush()
		})
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH USER
// ══════════════════════════════════════════════════════════════════════════════

var refreshUserCmd = &cobra.Command{
	Use:   "refresh-user <user-id>",
	Short: "Recalculate one user's score without touching ranks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, service.Options{}, func(ctx context.Context, c *service.Container) error {
			standing, err := c.Refresher.RefreshOne(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: score %.2f over %d solve(s)\n",
				standing.UserID, leaderboard.RoundScore(standing.Score), standing.Solved)
			return nil
		})
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKS
// ══════════════════════════════════════════════════════════════════════════════

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Recompute ranks over the cached scores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, service.Options{}, func(ctx context.Context, c *service.Container) error {
			sc := c.Config.Scheduler
			retrier := retry.LockRetrier(sc.RankRetryAttempts, sc.RankRetryDelay, leaderboard.IsRetryableRankError)

			var (
				result   *command.RecomputeResult
				attempts int
			)
			err := retrier.Do(ctx, func(ctx context.Context) error {
				attempts++
				var err error
				result, err = c.Recomputer.Recompute(ctx)
				return err
			})
			if err != nil {
				return fmt.Errorf("recompute ranks after %d attempt(s): %w", attempts, err)
			}

			c.Log.Debug("ranks recomputed", logger.Int("attempts", attempts))
			fmt.Printf("ranked %d user(s), %d rank change(s)\n", result.Ranked, result.Changed)
			return nil
		})
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// TOP
// ══════════════════════════════════════════════════════════════════════════════

var (
	topLimit int
	topLive  bool
)

var topCmd = &cobra.Command{
	Use:     "top",
	Short:   "Print the head of the leaderboard",
	Aliases: []string{"lb"},
	Example: `  spi top
  spi top -n 50
  spi top --live`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, service.Options{}, func(ctx context.Context, c *service.Container) error {
			if topLive {
				return printLiveTop(ctx, c)
			}
			result, err := c.GetLeaderboard.Handle(ctx, query.GetLeaderboardQuery{Page: 1, PageSize: topLimit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			now := time.Now()
			fmt.Fprintln(w, "RANK\tUSER\tSPI\tSCORE\tSOLVED\tUPDATED")
			for _, e := range result.Entries {
				rank := "-"
				if e.Rank > 0 {
					rank = fmt.Sprint(e.Rank)
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\t%s\n",
					rank, e.Username, e.SPI, e.Score, e.Solved, timeutil.FormatRelative(e.UpdatedAt, now))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d of %d user(s), served from %s\n", len(result.Entries), result.Total, result.Source)
			return nil
		})
	},
}

// printLiveTop scores every user from solve history and prints the head of
// the result. Nothing is written.
func printLiveTop(ctx context.Context, c *service.Container) error {
	board, err := c.Refresher.Preview(ctx)
	if err != nil {
		return err
	}

	n := min(max(topLimit, 1), leaderboard.MaxPageSize, len(board))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER ID\tSPI\tSCORE\tSOLVED")
	for _, r := range board[:n] {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%d\n",
			r.Rank, r.UserID, leaderboard.RoundScore(r.NormalizedScore), r.AdjustedScore, r.Solved)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d user(s), computed live with %s\n", n, len(board), c.Refresher.Policy())
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "roll back the latest applied migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations and whether they are applied")

	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "number of entries to print (max 100)")
	topCmd.Flags().BoolVar(&topLive, "live", false, "score users from solve history instead of reading the cached board")
}
