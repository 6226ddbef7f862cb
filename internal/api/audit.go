package api

import (
	"context"
	"net/http"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
)

// AuditStore is the global/per-session audit log surface the API layer
// reads from. Entries are written explicitly by C6 transition handlers
// (see internal/review), not by blanket request middleware, since audit
// entries here carry transition-specific detail strings.
type AuditStore interface {
	ListForSession(ctx context.Context, sessionID string) ([]domain.AuditEntry, error)
	List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int, error)
}

// HandleListAuditLog returns recent audit log entries across every session.
func (s *Server) HandleListAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		errorJSON(w, "audit logging not enabled", "NOT_FOUND", http.StatusNotFound)
		return
	}

	limit, offset := parsePagination(r)
	entries, err := s.Audit.List(r.Context(), limit, offset)
	if err != nil {
		internalError(w, "failed to list audit log", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}
