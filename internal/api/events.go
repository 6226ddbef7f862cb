package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// sessionEventsTick is the poll interval for the per-session change feed
// (spec.md §6): on each tick the handler reads current version/review_status
// and emits a frame only when either changed since the last tick.
const sessionEventsTick = 2 * time.Second

// sessionEventFrame is the payload emitted on GET /api/session/{id}/events.
type sessionEventFrame struct {
	Version      int64  `json:"version"`
	ReviewStatus string `json:"review_status"`
}

// HandleSessionEvents streams the lightweight per-session change feed as
// plain `data: {json}\n\n` SSE frames, polling every 2 seconds and emitting
// only when version or review_status changed since the previous tick. This
// is deliberately decoupled from the event-log writer (internal/presence's
// append-only stream) — it exists purely to let the UI notice a CAS commit
// without re-fetching the whole session on every poll.
func (s *Server) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

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

	send := func(frame sessionEventFrame) {
		data, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flush()
	}

	meta, err := s.Sessions.GetMeta(ctx, sessionID)
	if err != nil {
		errorJSON(w, "session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	last := sessionEventFrame{Version: meta.Version, ReviewStatus: string(meta.ReviewStatus)}
	send(last)

	ticker := time.NewTicker(sessionEventsTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			meta, err := s.Sessions.GetMeta(ctx, sessionID)
			if err != nil {
				return
			}
			current := sessionEventFrame{Version: meta.Version, ReviewStatus: string(meta.ReviewStatus)}
			if current != last {
				send(current)
				last = current
			}
		}
	}
}
