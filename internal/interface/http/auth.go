package http

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/sudokuhub/power-index/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// adminMiddleware requires the admin API key to match the configured
// bcrypt hash.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	hash := []byte(s.config.AdminKeyHash)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(s.config.AdminKeyHeader)
		if key == "" {
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "Admin key required")
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			s.logger.Warn("rejected admin request",
				logger.String("path", r.URL.Path),
				logger.RequestID(getRequestID(r.Context())),
			)
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashAdminKey returns the bcrypt hash to configure for key.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
