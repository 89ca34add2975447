package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func newMeta(r *http.Request) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().UTC(),
		Version:   "v1",
		RequestID: getRequestID(r.Context()),
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    newMeta(r),
	})
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    newMeta(r),
	})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var de *shared.DomainError
	message := err.Error()
	if errors.As(err, &de) && de.Err != nil {
		message = de.Err.Error()
	}

	switch shared.KindOf(err) {
	case shared.ErrValidation:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", message)
	case shared.ErrNotFound:
		writeJSONError(w, r, http.StatusNotFound, "not_found", message)
	case shared.ErrConflict, shared.ErrTimeout:
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "Try again later")
	default:
		s.logger.Error(op+" failed", logger.Err(err), logger.RequestID(getRequestID(r.Context())))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

// getQueryParamInt extracts an integer query parameter with a default value.
// ok is false when the parameter is present but not a number.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, false
	}
	return n, true
}
