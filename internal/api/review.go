package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/rules"
	"github.com/reviewlane/reviewer/internal/snapshot"
)

// reviewRequest is the POST /api/review body: the agentic entry point that
// builds a TaskSnapshot for the named session/checkpoint and runs the rule
// engine over it, independent of the trainer/reviewer transition handlers.
type reviewRequest struct {
	Session         string `json:"session"`
	Checkpoint      string `json:"checkpoint"`
	SelectedHuntIDs []int  `json:"selected_hunt_ids,omitempty"`
}

// HandleReview runs the rule engine against a session's current state at
// the requested checkpoint and returns the aggregated domain.ReviewResult.
// With "Accept: text/event-stream" it streams one event per rule
// (started/completed) instead of waiting for the whole batch.
func (s *Server) HandleReview(w http.ResponseWriter, r *http.Request) {
	var body reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if body.Session == "" {
		errorJSON(w, "session is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	if !domain.ValidCheckpoint(body.Checkpoint) {
		errorJSON(w, "checkpoint must be 'preflight' or 'final'", "VALIDATION", http.StatusBadRequest)
		return
	}

	fs, err := s.Sessions.GetFullState(r.Context(), body.Session)
	if err != nil {
		errorJSON(w, "session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	snap, err := snapshot.Build(fs, domain.Checkpoint(body.Checkpoint), body.SelectedHuntIDs)
	if err != nil {
		errorJSON(w, err.Error(), "FAILED_PRECONDITION", http.StatusBadRequest)
		return
	}

	if s.Rules == nil {
		writeJSON(w, http.StatusOK, domain.ReviewResult{Passed: true, Checkpoint: snap.Checkpoint, Timestamp: time.Now()})
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamReview(w, r, snap)
		return
	}

	result := s.Rules.Run(r.Context(), snap, s.RuleDefs)
	writeJSON(w, http.StatusOK, result)
}

// streamReview runs the rule engine with per-rule progress events, for
// clients that want to render live judge progress instead of a single
// blocking response.
func (s *Server) streamReview(w http.ResponseWriter, r *http.Request, snap domain.TaskSnapshot) {
	ip := clientIP(r)
	if s.SSELimiter != nil && !s.SSELimiter.Acquire(ip) {
		errorJSON(w, "too many SSE connections", "RATE_LIMIT", http.StatusTooManyRequests)
		return
	}
	defer func() {
		if s.SSELimiter != nil {
			s.SSELimiter.Release(ip)
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(MaxSSEDurationSeconds)*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	sendEvent := func(event string, payload interface{}) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flush()
	}

	result := s.Rules.RunStreaming(ctx, snap, s.RuleDefs, func(ev rules.Event) {
		sendEvent("rule", ev)
	})
	sendEvent("result", result)
}
