// Package presence implements C4: live-viewer presence tracking and the
// Redis-Streams-backed event log for a session, grounded in
// original_source's versioning.py (presence) and event_stream.py (stream).
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/store"
)

const (
	sessPrefix     = "review:sess"
	eventsPrefix   = "review:events"
	streamMaxLen   = 200
	blockTimeoutMS = 30000
)

// Service implements presence tracking and the per-session event stream.
type Service struct {
	store       store.Store
	presenceTTL time.Duration
	streamTTL   time.Duration
}

// New constructs a Service. presenceTTL defaults to 30s, streamTTL to 4h
// (matching session TTL).
func New(s store.Store, presenceTTL, streamTTL time.Duration) *Service {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	if streamTTL <= 0 {
		streamTTL = 4 * time.Hour
	}
	return &Service{store: s, presenceTTL: presenceTTL, streamTTL: streamTTL}
}

func presenceKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:presence", sessPrefix, sessionID)
}

func eventsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", eventsPrefix, sessionID)
}

// SetPresence records that email is viewing/editing a session. Auto-expires
// after presenceTTL unless refreshed by another heartbeat.
func (s *Service) SetPresence(ctx context.Context, sessionID, email string, role domain.Role, action string) error {
	if action == "" {
		action = "viewing"
	}
	entry := domain.PresenceEntry{Role: role, Action: action, Timestamp: time.Now().UTC()}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	field := normalizeEmail(email)
	key := presenceKey(sessionID)
	if err := s.store.HSet(ctx, key, field, string(b)); err != nil {
		return err
	}
	return s.store.Expire(ctx, key, s.presenceTTL)
}

// GetPresence returns every viewer currently present on a session.
func (s *Service) GetPresence(ctx context.Context, sessionID string) (map[string]domain.PresenceEntry, error) {
	raw, err := s.store.HGetAll(ctx, presenceKey(sessionID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.PresenceEntry, len(raw))
	for email, v := range raw {
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		out[email] = entry
	}
	return out, nil
}

// ClearPresence removes a single viewer's presence entry (explicit leave).
func (s *Service) ClearPresence(ctx context.Context, sessionID, email string) error {
	return s.store.HDel(ctx, presenceKey(sessionID), normalizeEmail(email))
}

func normalizeEmail(email string) string {
	out := make([]rune, 0, len(email))
	for _, r := range email {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Event is one entry in a session's event log.
type Event struct {
	ID        string
	EventType string
	HuntID    *int
	Data      json.RawMessage
}

// IsTerminal reports whether this event type ends the stream (complete/error).
func (e Event) IsTerminal() bool {
	return e.EventType == "complete" || e.EventType == "error"
}

// Publish appends an event to the session's stream, trimmed to ~streamMaxLen
// entries, and refreshes the stream's TTL. Returns the new entry's ID.
func (s *Service) Publish(ctx context.Context, sessionID, eventType string, huntID *int, data interface{}) (string, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	fields := map[string]string{
		"event_type": eventType,
		"data":       string(dataBytes),
	}
	if huntID != nil {
		fields["hunt_id"] = fmt.Sprintf("%d", *huntID)
	} else {
		fields["hunt_id"] = ""
	}

	key := eventsKey(sessionID)
	id, err := s.store.StreamAdd(ctx, key, fields, streamMaxLen)
	if err != nil {
		return "", err
	}
	if err := s.store.Expire(ctx, key, s.streamTTL); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe blocks waiting for the next batch of events after cursor ("$"
// means "only events published after this call"). Returns no events and the
// unchanged cursor with a nil error on a clean timeout — callers should loop
// and re-call with that cursor to keep waiting, checking for client disconnect between calls.
func (s *Service) Subscribe(ctx context.Context, sessionID, cursor string) ([]Event, string, error) {
	if cursor == "" {
		cursor = "$"
	}
	entries, err := s.store.StreamRead(ctx, eventsKey(sessionID), cursor, 10, blockTimeoutMS*time.Millisecond)
	if err != nil {
		return nil, cursor, err
	}
	if len(entries) == 0 {
		return nil, cursor, nil
	}

	events := make([]Event, 0, len(entries))
	next := cursor
	for _, e := range entries {
		next = e.ID
		events = append(events, parseEvent(e))
	}
	return events, next, nil
}

// Replay returns every event strictly after lastEventID, for SSE reconnects
// using Last-Event-ID.
func (s *Service) Replay(ctx context.Context, sessionID, lastEventID string) ([]Event, error) {
	raws, err := s.store.StreamRange(ctx, eventsKey(sessionID), lastEventID, "+")
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raws))
	for _, e := range raws {
		if e.ID == lastEventID {
			continue
		}
		events = append(events, parseEvent(e))
	}
	return events, nil
}

// DeleteStream removes a session's event log entirely.
func (s *Service) DeleteStream(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, eventsKey(sessionID))
}

// StreamLength returns the number of events currently retained, used by the
// sweep worker for observability.
func (s *Service) StreamLength(ctx context.Context, sessionID string) (int64, error) {
	return s.store.StreamLen(ctx, eventsKey(sessionID))
}

func parseEvent(e store.StreamEntry) Event {
	var huntID *int
	if v := e.Fields["hunt_id"]; v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			huntID = &n
		}
	}
	return Event{
		ID:        e.ID,
		EventType: e.Fields["event_type"],
		HuntID:    huntID,
		Data:      json.RawMessage(e.Fields["data"]),
	}
}
