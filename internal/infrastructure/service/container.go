// Package service assembles the leaderboard engine from configuration:
// stores, cache, event bus, application handlers and the rebuild job.
// cmd/worker and cmd/spi share it.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sudokuhub/power-index/config"
	"github.com/sudokuhub/power-index/internal/application/command"
	"github.com/sudokuhub/power-index/internal/application/eventhandler"
	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/internal/domain/scoring"
	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/internal/infrastructure/messaging"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/badgerstore"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/postgres"
	"github.com/sudokuhub/power-index/internal/infrastructure/persistence/redis"
	"github.com/sudokuhub/power-index/internal/infrastructure/scheduler/jobs"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// EventChannel is the Redis Pub/Sub channel shared by all processes.
var EventChannel = redis.PubSubChannel("events")

// Options controls optional parts of the container.
type Options struct {
	// WithoutRedis skips Redis even when configured (one-shot CLI commands).
	WithoutRedis bool

	// AsyncEvents dispatches events on the bus worker pool.
	AsyncEvents bool
}

// Container holds the wired components.
type Container struct {
	Config *config.Config
	Log    *logger.Logger

	DB      *postgres.Connection
	Solves  *postgres.SolveRepository
	Entries leaderboard.EntryStore
	Policy  scoring.Policy

	// Redis parts are nil when Redis is disabled or unreachable.
	Cache  *redis.Cache
	Mirror *GuardedMirror

	Bus shared.EventBus

	Refresher        *command.Refresher
	Recomputer       *command.RankRecomputer
	RecordCompletion *command.RecordCompletionHandler
	GetLeaderboard   *query.GetLeaderboardHandler
	GetUserStanding  *query.GetUserStandingHandler
	RebuildJob       *jobs.RebuildLeaderboardJob

	closers []func() error
}

// New connects every backend and wires the application layer.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *Container, err error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if err := c.openPostgres(ctx); err != nil {
		return nil, err
	}
	if err := c.openEntryStore(); err != nil {
		return nil, err
	}
	if !cfg.Redis.Disabled && !opts.WithoutRedis {
		c.openRedis()
	}
	if err := c.openBus(opts.AsyncEvents); err != nil {
		return nil, err
	}

	policy, err := scoring.NewPolicy(cfg.Scoring.Options())
	if err != nil {
		return nil, fmt.Errorf("scoring policy: %w", err)
	}
	c.Policy = policy

	c.wireApplication()
	if err := c.subscribeHandlers(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Container) openPostgres(ctx context.Context) error {
	dbCfg := postgres.DefaultConfig()
	dbCfg.URL = c.Config.Database.URL
	dbCfg.MaxConns = int32(c.Config.Database.MaxOpenConns)
	dbCfg.MinConns = int32(c.Config.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = c.Config.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = c.Config.Database.ConnMaxIdleTime

	c.Log.Info("connecting to database...")
	db, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, func() error {
		db.Close()
		return nil
	})
	c.Solves = postgres.NewSolveRepository(db)
	c.Log.Info("database connection established")
	return nil
}

func (c *Container) openEntryStore() error {
	switch c.Config.Store.Backend {
	case config.StoreBadger:
		store, err := badgerstore.Open(badgerstore.Options{
			Dir:      c.Config.Store.BadgerDir,
			InMemory: c.Config.Store.BadgerInMemory,
			Logger:   c.Log.Logrus(),
			Roster:   c.Solves,
		})
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		c.Entries = store
		c.closers = append(c.closers, store.Close)
		c.Log.Info("using badger entry store", logger.String("dir", c.Config.Store.BadgerDir))
	default:
		c.Entries = postgres.NewLeaderboardRepository(c.DB, c.Config.Database.RankLockTimeout)
	}
	return nil
}

// openRedis is best effort: without Redis readers use the entry store and
// the rebuild job runs unlocked.
func (c *Container) openRedis() {
	rc := c.Config.Redis
	cache, err := redis.NewCache(redis.Config{
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   redis.DefaultConfig().MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	if err != nil {
		c.Log.Warn("failed to connect to Redis, mirror disabled", logger.Err(err))
		return
	}

	c.Cache = cache
	c.closers = append(c.closers, cache.Close)
	c.Mirror = NewGuardedMirror(redis.NewBoardMirror(cache, rc.MirrorMaxAge), c.Log)
	c.Log.Info("Redis connection established")
}

func (c *Container) openBus(async bool) error {
	local := messaging.LocalConfig{Async: async, Logger: c.Log}

	if c.Cache == nil {
		bus := messaging.NewLocalBus(local)
		c.Bus = bus
		c.closers = append(c.closers, bus.Close)
		return nil
	}

	bus, err := messaging.NewRedisBus(messaging.RedisConfig{
		Client:  redis.NewPubSub(c.Cache),
		Channel: EventChannel,
		Local:   local,
		Logger:  c.Log,
	})
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	c.Bus = bus
	c.closers = append(c.closers, bus.Close)
	return nil
}

func (c *Container) wireApplication() {
	cfg := c.Config

	// Interfaces stay nil instead of holding typed nil pointers.
	var mirror query.BoardMirror
	if c.Mirror != nil {
		mirror = c.Mirror
	}
	var locker jobs.Locker
	if c.Cache != nil {
		locker = c.Cache
	}

	c.Refresher = command.NewRefresher(c.Solves, c.Solves, c.Entries, c.Policy, c.Bus, c.Log, command.RefresherConfig{
		Workers:        cfg.Refresh.Workers,
		PerUserTimeout: cfg.Refresh.PerUserTimeout,
	})
	c.Recomputer = command.NewRankRecomputer(c.Entries, c.Bus, c.Log)
	c.RecordCompletion = command.NewRecordCompletionHandler(c.Solves, c.Refresher, c.Bus, c.Log)
	c.GetLeaderboard = query.NewGetLeaderboardHandler(c.Entries, mirror, c.Log)
	c.GetUserStanding = query.NewGetUserStandingHandler(c.Entries, mirror, c.Log)
	c.RebuildJob = jobs.NewRebuildLeaderboardJob(c.Refresher, c.Recomputer, locker, c.Log, jobs.RebuildLeaderboardConfig{
		LockTTL:           cfg.Scheduler.LockTTL,
		RankRetryAttempts: cfg.Scheduler.RankRetryAttempts,
		RankRetryDelay:    cfg.Scheduler.RankRetryDelay,
	})
}

func (c *Container) subscribeHandlers() error {
	if c.Mirror == nil {
		return nil
	}

	onRanks := eventhandler.NewOnRanksRecomputedHandler(c.Entries, c.Mirror, c.Log)
	if err := c.Bus.Subscribe(shared.EventRanksRecomputed, onRanks.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventRanksRecomputed, err)
	}
	onCompleted := eventhandler.NewOnPuzzleCompletedHandler(c.Mirror, c.Log)
	if err := c.Bus.Subscribe(shared.EventPuzzleCompleted, onCompleted.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventPuzzleCompleted, err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (c *Container) Migrate(ctx context.Context) (int, error) {
	return postgres.NewMigrator(c.DB).Migrate(ctx)
}

// Close releases everything in reverse order of opening.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
