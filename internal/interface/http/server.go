// Package http implements the REST API over the leaderboard query and
// command layers: leaderboard pages, user standings, completions and the
// admin recompute trigger.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sudokuhub/power-index/internal/application/command"
	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/infrastructure/scheduler/jobs"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config is the listener and route configuration of the API.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // covers a full recompute run by the admin route
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// AdminKeyHeader carries the admin key; AdminKeyHash is its bcrypt hash.
	// Admin routes are only mounted when AdminKeyHash is set.
	AdminKeyHeader string
	AdminKeyHash   string

	// RateLimit applies to completion submissions. Zero disables it.
	RateLimit RateLimitConfig
}

func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		AdminKeyHeader: "X-Admin-Key",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Rebuilder runs a full refresh and rank recompute and reports that run's
// stats.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*jobs.RebuildStats, error)
}

// Dependencies are the handlers the routes call into. Health and
// Rebuilder may be nil.
type Dependencies struct {
	GetLeaderboard   *query.GetLeaderboardHandler
	GetUserStanding  *query.GetUserStandingHandler
	RecordCompletion *command.RecordCompletionHandler
	Rebuilder        Rebuilder
	Health           *HealthChecker
	Logger           *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	limiter *RateLimiter
	mux     *http.ServeMux
	srv     *http.Server

	startedAt atomic.Pointer[time.Time]
}

func NewServer(config Config, deps Dependencies) *Server {
	if config.AdminKeyHeader == "" {
		config.AdminKeyHeader = DefaultConfig().AdminKeyHeader
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		config:  config,
		deps:    deps,
		logger:  log.With(logger.Component("http")),
		limiter: NewRateLimiter(config.RateLimit),
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /live", s.handleLive)

	s.mux.HandleFunc("GET /api/v1/leaderboard", s.handleGetLeaderboard)
	s.mux.HandleFunc("GET /api/v1/leaderboard/users/{id}", s.handleGetUserStanding)
	s.mux.Handle("POST /api/v1/completions",
		s.rateLimitMiddleware(http.HandlerFunc(s.handleRecordCompletion)))

	if s.config.AdminKeyHash != "" {
		s.mux.Handle("POST /api/v1/admin/leaderboard/recompute",
			s.adminMiddleware(http.HandlerFunc(s.handleRecompute)))
	}
}

// Handler is the mux behind request ID, access log and panic recovery.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, s.requestIDMiddleware, s.loggingMiddleware, s.recoveryMiddleware)
}

// StartAsync serves in a goroutine. The channel yields the listen error,
// if any, and is closed once the server has stopped.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	now := time.Now()
	s.startedAt.Store(&now)
	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	go func() {
		defer close(errCh)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.startedAt.Swap(nil) == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

// Uptime is zero before StartAsync and after Shutdown.
func (s *Server) Uptime() time.Duration {
	if t := s.startedAt.Load(); t != nil {
		return time.Since(*t)
	}
	return 0
}
