package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reviewlane/reviewer/internal/auth"
)

// SessionView is the composite session representation returned by
// GET /api/session/{id}: the trainer-facing state plus the review-pipeline
// fields a client needs to render progress and review status.
type SessionView struct {
	SessionID      string                 `json:"session_id"`
	Status         string                 `json:"status"`
	ReviewStatus   string                 `json:"review_status"`
	Version        int64                  `json:"version"`
	ReviewRound    int                    `json:"review_round"`
	TotalHunts     int                    `json:"total_hunts"`
	CompletedHunts int                    `json:"completed_hunts"`
	BreaksFound    int                    `json:"breaks_found"`
	QCDone         bool                   `json:"qc_done"`
	AcknowledgedAt *string                `json:"acknowledged_at,omitempty"`
	TrainerEmail   string                 `json:"trainer_email"`
	Reviews        map[string]interface{} `json:"reviews"`
	TaskDisplayID  string                 `json:"task_display_id,omitempty"`
}

// HandleGetSession returns the composite session view.
func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	fs, err := s.Sessions.GetFullState(r.Context(), sessionID)
	if err != nil {
		errorJSON(w, "session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	if !s.canViewSession(w, r, fs.Meta.TrainerEmail) {
		return
	}

	reviews := make(map[string]interface{}, len(fs.Reviews))
	for k, v := range fs.Reviews {
		reviews[k] = v
	}

	view := SessionView{
		SessionID:      sessionID,
		Status:         string(fs.Status),
		ReviewStatus:   string(fs.Meta.ReviewStatus),
		Version:        fs.Meta.Version,
		ReviewRound:    fs.Meta.ReviewRound,
		TotalHunts:     fs.Meta.TotalHunts,
		CompletedHunts: fs.Meta.CompletedHunts,
		BreaksFound:    fs.Meta.BreaksFound,
		QCDone:         fs.Meta.QCDone,
		TrainerEmail:   fs.Meta.TrainerEmail,
		Reviews:        reviews,
	}
	if fs.Meta.AcknowledgedAt != nil {
		formatted := fs.Meta.AcknowledgedAt.Format(timeFormat)
		view.AcknowledgedAt = &formatted
	}
	if s.Notify != nil {
		view.TaskDisplayID = s.Notify.ExtractTaskDisplayID(sessionID, fs.Notebook.Metadata)
	}

	writeJSON(w, http.StatusOK, view)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// canViewSession enforces the §6 queue-scoping rule on a single-session
// read: trainers see only their own sessions, reviewers their pod's,
// admins their pods' set, super_admins everything.
func (s *Server) canViewSession(w http.ResponseWriter, r *http.Request, trainerEmail string) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || s.Teams == nil {
		return true
	}
	allowed, all, known := s.Teams.GetAllowedTrainerEmailsForRole(identity.Email)
	if !known {
		errorJSON(w, "unknown identity", "FORBIDDEN", http.StatusForbidden)
		return false
	}
	if all {
		return true
	}
	for _, e := range allowed {
		if e == trainerEmail {
			return true
		}
	}
	errorJSON(w, "forbidden", "FORBIDDEN", http.StatusForbidden)
	return false
}

// HandleSubmitForReview transitions a session draft -> submitted. Honors an
// Idempotency-Key header (spec.md §4.3/§8: a retried submit with the same
// key replays the first response instead of re-running the transition) and
// an optional expected_version body field for the optimistic-concurrency
// guard.
func (s *Server) HandleSubmitForReview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	key := idempotencyKey(r)
	if s.checkIdempotentReplay(w, r, key) {
		return
	}

	var body versionGuardRequest
	decodeOptionalJSON(r, &body)
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}

	result, err := s.Review.SubmitForReview(r.Context(), sessionID)
	if err != nil {
		writeStateError(w, err)
		return
	}
	s.storeIdempotent(r, key, result)
	writeJSON(w, http.StatusOK, result)
}

// HandleResubmit transitions a returned session back into review, or to
// escalated once the next round would exceed the configured maximum.
// Same Idempotency-Key and expected_version handling as HandleSubmitForReview.
func (s *Server) HandleResubmit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	key := idempotencyKey(r)
	if s.checkIdempotentReplay(w, r, key) {
		return
	}

	var body versionGuardRequest
	decodeOptionalJSON(r, &body)
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}

	result, err := s.Review.Resubmit(r.Context(), sessionID)
	if err != nil {
		writeStateError(w, err)
		return
	}
	s.storeIdempotent(r, key, result)
	writeJSON(w, http.StatusOK, result)
}

// HandleAcknowledge sets acknowledged_at on a returned session.
func (s *Server) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var body versionGuardRequest
	decodeOptionalJSON(r, &body)
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}
	at, err := s.Review.Acknowledge(r.Context(), sessionID)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged_at": at.Format(timeFormat)})
}

// HandleMarkQCDone flags qc_done on the session.
func (s *Server) HandleMarkQCDone(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var body versionGuardRequest
	decodeOptionalJSON(r, &body)
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}
	if err := s.Review.MarkQCDone(r.Context(), sessionID); err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"qc_done": true})
}

// parseIntQuery reads an integer query parameter, returning ok=false if
// absent or malformed.
func parseIntQuery(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
