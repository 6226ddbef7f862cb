package api

import (
	"encoding/json"
	"net/http"
)

// maxBulkBatchSize bounds bulk-action payloads (spec.md §6,
// bulk_actions.max_batch_size, default 4). Falls back to this default when
// the Server has no Config loaded (e.g. in tests).
const maxBulkBatchSize = 4

func (s *Server) bulkBatchLimit() int {
	if s.Config != nil && s.Config.BulkActions.MaxBatchSize > 0 {
		return s.Config.BulkActions.MaxBatchSize
	}
	return maxBulkBatchSize
}

type bulkApproveRequest struct {
	SessionIDs []string `json:"session_ids"`
	Comment    string   `json:"comment,omitempty"`
}

type bulkResubmitRequest struct {
	SessionIDs []string `json:"session_ids"`
}

// HandleBulkApprove approves up to the configured batch size of tasks in
// one request, returning a per-item outcome.
func (s *Server) HandleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var body bulkApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if len(body.SessionIDs) == 0 || len(body.SessionIDs) > s.bulkBatchLimit() {
		errorJSON(w, "session_ids must contain between 1 and the configured max batch size", "VALIDATION", http.StatusBadRequest)
		return
	}

	result := s.Review.BulkApprove(r.Context(), body.SessionIDs, reviewerEmail(r), body.Comment)
	for _, ok := range result.Succeeded {
		s.archiveApproval(r, ok)
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleBulkResubmit resubmits up to the configured batch size of sessions
// in one request, returning a per-item outcome.
func (s *Server) HandleBulkResubmit(w http.ResponseWriter, r *http.Request) {
	var body bulkResubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if len(body.SessionIDs) == 0 || len(body.SessionIDs) > s.bulkBatchLimit() {
		errorJSON(w, "session_ids must contain between 1 and the configured max batch size", "VALIDATION", http.StatusBadRequest)
		return
	}

	result := s.Review.BulkResubmit(r.Context(), body.SessionIDs)
	writeJSON(w, http.StatusOK, result)
}
