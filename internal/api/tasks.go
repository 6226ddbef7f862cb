package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reviewlane/reviewer/internal/auth"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/snapshot"
	"github.com/reviewlane/reviewer/internal/versioning"
)

type approveRequest struct {
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type feedbackRequest struct {
	Feedback        *domain.Feedback `json:"feedback,omitempty"`
	ExpectedVersion int64            `json:"expected_version,omitempty"`
}

// reviewerEmail returns the caller's identity email, or "" if unresolved.
func reviewerEmail(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Email
	}
	return ""
}

// HandleApprove approves a task and archives the approved snapshot for the
// downstream training pipeline.
func (s *Server) HandleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body approveRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}

	version, err := s.Review.Approve(r.Context(), sessionID, reviewerEmail(r), body.Comment)
	if err != nil {
		writeStateError(w, err)
		return
	}

	s.archiveApproval(r, sessionID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"review_status": string(domain.ReviewApproved), "version": version})
}

// archiveApproval persists the final snapshot and result for a just-approved
// session. Best-effort: failures are logged, not surfaced to the caller —
// the approval itself already succeeded and should not be rolled back over
// an archival hiccup.
func (s *Server) archiveApproval(r *http.Request, sessionID string) {
	if s.Archive == nil {
		return
	}
	fs, err := s.Sessions.GetFullState(r.Context(), sessionID)
	if err != nil {
		slog.Warn("archive: failed to load session state", "session_id", sessionID, "error", err)
		return
	}
	snap, err := snapshot.Build(fs, domain.CheckpointFinal, nil)
	if err != nil {
		slog.Warn("archive: failed to build snapshot", "session_id", sessionID, "error", err)
		return
	}
	result := domain.ReviewResult{Passed: true, Checkpoint: domain.CheckpointFinal}
	if s.Rules != nil && len(s.RuleDefs) > 0 {
		result = s.Rules.Run(r.Context(), snap, s.RuleDefs)
	}
	if err := s.Archive.WriteApproval(r.Context(), sessionID, snap, result, time.Now().UTC()); err != nil {
		slog.Warn("archive: failed to write approval record", "session_id", sessionID, "error", err)
	}
}

// HandleReturn returns a submitted task to the trainer with feedback.
func (s *Server) HandleReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body feedbackRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
			return
		}
	}
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}

	version, err := s.Review.Return(r.Context(), sessionID, reviewerEmail(r), body.Feedback)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"review_status": string(domain.ReviewReturned), "version": version})
}

// HandleReject rejects a task (terminal).
func (s *Server) HandleReject(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body feedbackRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if !s.checkExpectedVersion(w, r, sessionID, body.ExpectedVersion) {
		return
	}

	version, err := s.Review.Reject(r.Context(), sessionID, reviewerEmail(r), body.Feedback)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"review_status": string(domain.ReviewRejected), "version": version})
}

// HandleVersionHistory returns a task's capped version history.
func (s *Server) HandleVersionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	history, err := s.Versions.GetVersionHistory(r.Context(), sessionID)
	if err != nil {
		internalError(w, "failed to read version history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// HandleDiff returns the field-level diff between two version-history rounds.
func (s *Server) HandleDiff(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	v1, ok1 := parseIntQuery(r, "v1")
	v2, ok2 := parseIntQuery(r, "v2")
	if !ok1 || !ok2 {
		errorJSON(w, "v1 and v2 query parameters are required", "VALIDATION", http.StatusBadRequest)
		return
	}

	history, err := s.Versions.GetVersionHistory(r.Context(), sessionID)
	if err != nil {
		internalError(w, "failed to read version history", err)
		return
	}

	var reviews1, reviews2 map[string]domain.ReviewSlot
	for _, snap := range history {
		if snap.Round == v1 {
			reviews1 = snap.Reviews
		}
		if snap.Round == v2 {
			reviews2 = snap.Reviews
		}
	}
	if reviews1 == nil || reviews2 == nil {
		errorJSON(w, "one or both requested rounds were not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"v1":   v1,
		"v2":   v2,
		"diff": versioning.Diff(reviews1, reviews2),
	})
}
