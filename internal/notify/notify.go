// Package notify implements C5: per-user capped notification lists with
// atomic mark-read semantics, and the append-only session audit log.
// Grounded directly in original_source's notifications.py, including the
// mark-read/mark-all-read Lua scripts ported verbatim as Go string
// constants and run through store.Store.Eval.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/store"
)

const (
	notifPrefix = "review:notif"
	notifMax    = 100
)

// luaMarkOneRead mirrors notifications.py's _LUA_MARK_ONE_READ exactly:
// scan the list for the first unread entry with a matching id, flip its
// read flag, and write it back in place.
const luaMarkOneRead = `
local key = KEYS[1]
local target_id = ARGV[1]
local len = redis.call('LLEN', key)
for i = 0, len - 1 do
    local raw = redis.call('LINDEX', key, i)
    local ok, item = pcall(cjson.decode, raw)
    if ok and item['id'] == target_id and not item['read'] then
        item['read'] = true
        redis.call('LSET', key, i, cjson.encode(item))
        return 1
    end
end
return 0
`

// luaMarkAllRead mirrors notifications.py's _LUA_MARK_ALL_READ exactly.
const luaMarkAllRead = `
local key = KEYS[1]
local len = redis.call('LLEN', key)
local count = 0
for i = 0, len - 1 do
    local raw = redis.call('LINDEX', key, i)
    local ok, item = pcall(cjson.decode, raw)
    if ok and not item['read'] then
        item['read'] = true
        redis.call('LSET', key, i, cjson.encode(item))
        count = count + 1
    end
end
return count
`

// Service implements the notification surface over a keyed store.
type Service struct {
	store    store.Store
	ttl      time.Duration
	identity config.TaskIdentityConfig
}

// New constructs a Service. ttl defaults to 7 days.
func New(s store.Store, ttl time.Duration, identity config.TaskIdentityConfig) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{store: s, ttl: ttl, identity: identity}
}

func notifKey(email string) string {
	return fmt.Sprintf("%s:%s", notifPrefix, strings.ToLower(strings.TrimSpace(email)))
}

// Push builds and stores a notification for email. No-op if email is empty.
func (s *Service) Push(ctx context.Context, email, notifType, sessionID, message, taskDisplayID string) error {
	if email == "" {
		return nil
	}
	n := domain.Notification{
		ID:            uuid.NewString(),
		Type:          notifType,
		SessionID:     sessionID,
		TaskDisplayID: taskDisplayID,
		Message:       message,
		Timestamp:     time.Now().UTC(),
		Read:          false,
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := notifKey(email)
	if err := s.store.LPush(ctx, key, string(b)); err != nil {
		return err
	}
	if err := s.store.LTrim(ctx, key, 0, notifMax-1); err != nil {
		return err
	}
	return s.store.Expire(ctx, key, s.ttl)
}

// List returns a user's notifications, newest first, optionally unread-only.
func (s *Service) List(ctx context.Context, email string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if email == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	raws, err := s.store.LRange(ctx, notifKey(email), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(raws))
	for _, raw := range raws {
		var n domain.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount returns the count of unread notifications for email.
func (s *Service) UnreadCount(ctx context.Context, email string) (int, error) {
	items, err := s.List(ctx, email, true, notifMax)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// MarkOneRead atomically marks the first unread notification with the given
// id as read. Returns false if no such unread notification exists.
func (s *Service) MarkOneRead(ctx context.Context, email, notifID string) (bool, error) {
	if email == "" || notifID == "" {
		return false, nil
	}
	res, err := s.store.Eval(ctx, luaMarkOneRead, []string{notifKey(email)}, notifID)
	if err != nil {
		return false, err
	}
	return toInt64(res) == 1, nil
}

// MarkAllRead atomically marks every unread notification as read, returning
// the count flipped.
func (s *Service) MarkAllRead(ctx context.Context, email string) (int, error) {
	if email == "" {
		return 0, nil
	}
	res, err := s.store.Eval(ctx, luaMarkAllRead, []string{notifKey(email)})
	if err != nil {
		return 0, err
	}
	return int(toInt64(res)), nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// ExtractTaskDisplayID resolves the human-readable task identifier from
// notebook metadata using the configured display-id field and fallbacks,
// falling back to the first 8 characters of the session id.
func (s *Service) ExtractTaskDisplayID(sessionID string, metadata map[string]string) string {
	fields := s.taskIDFields()
	for _, f := range fields {
		if v, ok := metadata[f]; ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

func (s *Service) taskIDFields() []string {
	primary := s.identity.DisplayIDField
	if primary == "" {
		primary = "Task ID"
	}
	fallbacks := s.identity.FallbackFields
	if len(fallbacks) == 0 {
		fallbacks = []string{"TaskID", "task_id"}
	}
	return append([]string{primary}, fallbacks...)
}

// SafeNotify invokes fn and logs+swallows any error, so a notification
// failure never fails the caller's state transition. Grounded in
// resilience.py's safe_notify.
func SafeNotify(ctx context.Context, logger *slog.Logger, label string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		if logger == nil {
			return
		}
		logger.Warn("notification failed", "context", label, "error", err)
	}
}
