// Package api is the HTTP layer for reviewerd: request validation, identity/
// role scoping, idempotency lookup, dispatch into C6 (internal/review),
// C7 (internal/rules), C8 (internal/council), and response serialization.
// All endpoints are mounted under /api.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/reviewlane/reviewer/internal/archive"
	"github.com/reviewlane/reviewer/internal/auth"
	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/council"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/notify"
	"github.com/reviewlane/reviewer/internal/presence"
	"github.com/reviewlane/reviewer/internal/review"
	"github.com/reviewlane/reviewer/internal/rules"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/teamdir"
	"github.com/reviewlane/reviewer/internal/versioning"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB). Task
// snapshots and review payloads are small JSON documents, never uploads.
const maxJSONBodySize = 1 << 20

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Structured error type codes for machine-readable error categorization.
const (
	ErrorTypeValidation    = "VALIDATION"
	ErrorTypeAuthentication = "AUTHENTICATION"
	ErrorTypeAuthorization = "AUTHORIZATION"
	ErrorTypeNotFound      = "NOT_FOUND"
	ErrorTypeConflict      = "CONFLICT"
	ErrorTypeRateLimit     = "RATE_LIMIT"
	ErrorTypeInternal      = "INTERNAL"
)

// APIError is the structured JSON error envelope returned by all API error responses.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypeAuthorization
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeStateError writes the appropriate status/body for a *review.StateError,
// falling back to a 500 for anything else.
func writeStateError(w http.ResponseWriter, err error) {
	if se, ok := err.(*review.StateError); ok {
		errorJSON(w, se.Message, codeForStatus(se.Status), se.Status)
		return
	}
	internalError(w, "review transition failed", err)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusBadRequest:
		return "FAILED_PRECONDITION"
	case http.StatusForbidden:
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}

// versionGuardRequest carries an optional client-supplied "last seen"
// version for the optimistic-concurrency guard (spec.md §3/§4.3). A zero
// value means the caller opted out of the guard.
type versionGuardRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

// decodeOptionalJSON best-effort decodes r.Body into v. A missing or empty
// body is not an error — callers that don't send a body still get the zero
// value of v.
func decodeOptionalJSON(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

// checkExpectedVersion rejects the request as a stale write if the caller
// supplied a nonzero expected_version that no longer matches the session's
// current version. Returns false after writing the error response.
func (s *Server) checkExpectedVersion(w http.ResponseWriter, r *http.Request, sessionID string, expected int64) bool {
	if expected == 0 || s.Versions == nil {
		return true
	}
	ok, current, err := s.Versions.CheckVersionMatch(r.Context(), sessionID, expected)
	if err != nil {
		internalError(w, "failed to check session version", err)
		return false
	}
	if !ok {
		errorJSON(w, fmt.Sprintf("stale write: expected version %d, current is %d", expected, current), "CONFLICT", http.StatusConflict)
		return false
	}
	return true
}

// idempotencyKey reads the client-supplied retry token, if any.
func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// checkIdempotentReplay writes the cached response for key and returns true
// if this idempotency key has already produced a response. The caller
// should return immediately when this is true.
func (s *Server) checkIdempotentReplay(w http.ResponseWriter, r *http.Request, key string) bool {
	if key == "" || s.Versions == nil {
		return false
	}
	cached, ok, err := s.Versions.CheckIdempotency(r.Context(), key)
	if err != nil || !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cached))
	return true
}

// storeIdempotent caches the JSON-encoded response under key so a retried
// request with the same key replays this exact body instead of re-running
// the transition.
func (s *Server) storeIdempotent(r *http.Request, key string, v any) {
	if key == "" || s.Versions == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal response for idempotency cache", "error", err)
		return
	}
	if err := s.Versions.StoreIdempotency(r.Context(), key, string(body)); err != nil {
		slog.Warn("failed to store idempotency key", "error", err)
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// Server holds every dependency the HTTP handlers dispatch into.
type Server struct {
	Sessions  *session.Repository
	Versions  *versioning.Service
	Presence  *presence.Service
	Notify    *notify.Service
	Audit     AuditStore
	Teams     teamdir.Directory
	Review    *review.Service
	Rules     *rules.Engine
	RuleDefs  []domain.RuleDefinition
	Council   *council.Service
	Archive   *archive.Store
	Config    *config.Config

	Authorizer Authorizer
	CORSOrigins []string

	RateLimit       *RateLimitConfig
	RateLimiterStop func()
	SSELimiter      *SSELimiter

	StoreHealth HealthChecker // Redis health check (PING). Nil = skip.
	S3Health    HealthChecker // MinIO health check (BucketExists). Nil = skip.
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.SSELimiter == nil {
		srv.SSELimiter = NewSSELimiter()
	}

	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	hasWildcard := false
	for _, o := range corsOrigins {
		if o == "*" {
			hasWildcard = true
			break
		}
	}
	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Reviewer-Email", "X-Trainer-Email", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if hasWildcard {
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials — using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Get("/metrics", srv.HandleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.RateLimit != nil {
			rl, mw := RateLimit(*srv.RateLimit)
			srv.RateLimiterStop = rl.Stop
			r.Use(mw)
		}
		r.Use(auth.RequireIdentity(srv.Teams))

		r.Get("/task-identity-config", srv.HandleTaskIdentityConfig)
		r.Get("/queue", srv.HandleQueue)

		r.Get("/session/{id}", srv.HandleGetSession)
		r.Get("/session/{id}/events", srv.HandleSessionEvents)
		r.Post("/session/{id}/submit-for-review", srv.HandleSubmitForReview)
		r.Post("/session/{id}/resubmit", srv.HandleResubmit)
		r.Post("/session/{id}/acknowledge", srv.HandleAcknowledge)
		r.Post("/session/{id}/mark-qc-done", srv.HandleMarkQCDone)
		r.Post("/session/bulk-resubmit", srv.HandleBulkResubmit)

		r.Post("/tasks/{id}/approve", srv.HandleApprove)
		r.Post("/tasks/{id}/return", srv.HandleReturn)
		r.Post("/tasks/{id}/reject", srv.HandleReject)
		r.Get("/tasks/{id}/versions", srv.HandleVersionHistory)
		r.Get("/tasks/{id}/diff", srv.HandleDiff)
		r.Post("/tasks/bulk-approve", srv.HandleBulkApprove)

		r.Get("/notifications", srv.HandleListNotifications)
		r.Post("/notifications/{id}/read", srv.HandleMarkNotificationRead)

		r.Post("/review", srv.HandleReview)

		if srv.Audit != nil {
			r.Get("/audit", srv.HandleListAuditLog)
		}
	})

	return r
}

