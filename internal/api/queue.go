package api

import (
	"net/http"

	"github.com/reviewlane/reviewer/internal/auth"
	"github.com/reviewlane/reviewer/internal/domain"
)

// QueueEntry is one row of GET /api/queue: enough to render a worklist
// without fetching every session's full state.
type QueueEntry struct {
	SessionID     string `json:"session_id"`
	ReviewStatus  string `json:"review_status"`
	Version       int64  `json:"version"`
	ReviewRound   int    `json:"review_round"`
	TrainerEmail  string `json:"trainer_email"`
	TaskDisplayID string `json:"task_display_id,omitempty"`
}

// HandleQueue lists sessions scoped to the caller's role (§6 role-based
// queue scoping): super_admin sees everything, admin sees their pods'
// trainers, reviewer sees their pod's trainers, trainer sees only their own.
// An optional status query parameter filters to a single review_status.
func (s *Server) HandleQueue(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		errorJSON(w, "missing identity", "FORBIDDEN", http.StatusForbidden)
		return
	}

	var allowed []string
	all := true
	if s.Teams != nil {
		a, allAccess, known := s.Teams.GetAllowedTrainerEmailsForRole(identity.Email)
		if !known {
			errorJSON(w, "unknown identity", "FORBIDDEN", http.StatusForbidden)
			return
		}
		allowed, all = a, allAccess
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, e := range allowed {
		allowedSet[e] = true
	}

	var ids []string
	var err error
	if status := r.URL.Query().Get("status"); status != "" && domain.ValidReviewStatus(status) {
		ids, err = s.Sessions.ListSessionsByReviewStatus(r.Context(), domain.ReviewStatus(status))
	} else {
		ids, err = s.Sessions.ListSessions(r.Context())
	}
	if err != nil {
		internalError(w, "failed to list sessions", err)
		return
	}

	entries := make([]QueueEntry, 0, len(ids))
	for _, id := range ids {
		meta, err := s.Sessions.GetMeta(r.Context(), id)
		if err != nil {
			continue
		}
		if !all && !allowedSet[meta.TrainerEmail] {
			continue
		}
		entry := QueueEntry{
			SessionID:    id,
			ReviewStatus: string(meta.ReviewStatus),
			Version:      meta.Version,
			ReviewRound:  meta.ReviewRound,
			TrainerEmail: meta.TrainerEmail,
		}
		if s.Notify != nil {
			fs, err := s.Sessions.GetFullState(r.Context(), id)
			if err == nil {
				entry.TaskDisplayID = s.Notify.ExtractTaskDisplayID(id, fs.Notebook.Metadata)
			}
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": entries})
}

// HandleTaskIdentityConfig echoes the configured task_identity block so the
// UI can render the right label and fallback metadata fields.
func (s *Server) HandleTaskIdentityConfig(w http.ResponseWriter, r *http.Request) {
	if s.Config == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.Config.TaskIdentity)
}
