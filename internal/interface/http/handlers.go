package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sudokuhub/power-index/internal/application/command"
	"github.com/sudokuhub/power-index/internal/application/query"
	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
		})
		return
	}

	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/leaderboard.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLeaderboard == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	page, ok := getQueryParamInt(r, "page", 1)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "page must be a number")
		return
	}
	pageSize, ok := getQueryParamInt(r, "page_size", 0)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "page_size must be a number")
		return
	}

	params := r.URL.Query()
	result, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Search:   params.Get("search"),
		SortBy:   params.Get("sort"),
		Order:    params.Get("order"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "get leaderboard")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleGetUserStanding handles GET /api/v1/leaderboard/users/{id}.
func (s *Server) handleGetUserStanding(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetUserStanding == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Standing handler not configured")
		return
	}

	neighbors, ok := getQueryParamInt(r, "neighbors", 0)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "neighbors must be a number")
		return
	}

	result, err := s.deps.GetUserStanding.Handle(r.Context(), query.GetUserStandingQuery{
		UserID:        r.PathValue("id"),
		NeighborRange: neighbors,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "get user standing")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type completionRequest struct {
	UserID      string     `json:"user_id"`
	PuzzleID    string     `json:"puzzle_id"`
	TimeSeconds int        `json:"time_seconds"`
	Rating      *int       `json:"rating,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type completionResponse struct {
	UserID      string    `json:"user_id"`
	PuzzleID    string    `json:"puzzle_id"`
	TimeSeconds int       `json:"time_seconds"`
	Rating      *int      `json:"rating,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	FirstSolve  bool      `json:"first_solve"`

	// Score is absent when the inline refresh failed.
	Score  *float64 `json:"score,omitempty"`
	Solved int      `json:"solved"`
}

// handleRecordCompletion handles POST /api/v1/completions.
func (s *Server) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordCompletion == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Completion handler not configured")
		return
	}

	var req completionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body must be a completion object")
		return
	}

	cmd := command.RecordCompletionCommand{
		UserID:        req.UserID,
		PuzzleID:      req.PuzzleID,
		TimeSeconds:   req.TimeSeconds,
		Rating:        req.Rating,
		CorrelationID: getRequestID(r.Context()),
	}
	if req.CompletedAt != nil {
		cmd.CompletedAt = req.CompletedAt.UTC()
	}

	result, err := s.deps.RecordCompletion.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "record completion")
		return
	}

	resp := completionResponse{
		UserID:      result.Record.UserID,
		PuzzleID:    result.Record.PuzzleID,
		TimeSeconds: result.Record.Time,
		Rating:      result.Record.Rating,
		CompletedAt: result.Record.CompletedAt,
		FirstSolve:  result.FirstSolve,
	}
	if result.Standing != nil {
		score := leaderboard.RoundScore(result.Standing.Score)
		resp.Score = &score
		resp.Solved = result.Standing.Solved
	}

	status := http.StatusOK
	if result.FirstSolve {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type recomputeResponse struct {
	RunID       string        `json:"run_id"`
	Users       int           `json:"users"`
	Refreshed   int           `json:"refreshed"`
	Failed      int           `json:"failed"`
	Ranked      int           `json:"ranked"`
	RankChanges int           `json:"rank_changes"`
	Attempts    int           `json:"rank_attempts"`
	Duration    time.Duration `json:"duration_ns"`
}

// handleRecompute handles POST /api/v1/admin/leaderboard/recompute.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rebuilder == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Recompute not configured")
		return
	}

	stats, err := s.deps.Rebuilder.Rebuild(r.Context())
	if err != nil {
		if errors.Is(err, leaderboard.ErrRankLockUnavailable) || errors.Is(err, leaderboard.ErrRankWriteConflict) {
			writeJSONError(w, r, http.StatusServiceUnavailable, "rank_lock_unavailable", "Ranks are being written elsewhere, try again later")
			return
		}
		s.logger.Error("admin recompute failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Recompute failed")
		return
	}
	if stats == nil {
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Recompute produced no result")
		return
	}
	if stats.Skipped {
		writeJSONError(w, r, http.StatusConflict, "rebuild_in_progress", "A rebuild is already running")
		return
	}

	s.logger.Info("admin recompute finished", logger.RunID(stats.RunID), logger.Int("ranked", stats.Ranked))

	writeJSON(w, r, http.StatusOK, recomputeResponse{
		RunID:       stats.RunID,
		Users:       stats.Users,
		Refreshed:   stats.Refreshed,
		Failed:      stats.Failed,
		Ranked:      stats.Ranked,
		RankChanges: stats.RankChanges,
		Attempts:    stats.RankAttempts,
		Duration:    stats.Duration,
	})
}
