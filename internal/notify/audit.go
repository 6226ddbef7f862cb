package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/reviewlane/reviewer/internal/domain"
)

const (
	sessPrefix  = "review:sess"
	auditMaxLen = 500
)

func auditKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:audit", sessPrefix, sessionID)
}

// AuditLog is the append-only per-session action log (C5), grounded in
// review_actions.py's append_audit calls alongside every approve/return/
// reject transition — written explicitly by the C6 handler, not by blanket
// request middleware, since entries carry transition-specific details.
type AuditLog struct {
	store interface {
		RPush(ctx context.Context, key, value string) error
		LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
		LTrim(ctx context.Context, key string, start, stop int64) error
		ScanKeys(ctx context.Context, matchPrefix string) ([]string, error)
	}
	ttl time.Duration
}

// NewAuditLog constructs an AuditLog. ttl defaults to the session TTL (4h).
func NewAuditLog(s interface {
	RPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	ScanKeys(ctx context.Context, matchPrefix string) ([]string, error)
}, ttl time.Duration) *AuditLog {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &AuditLog{store: s, ttl: ttl}
}

// Log appends one entry to a session's audit log.
func (a *AuditLog) Log(ctx context.Context, sessionID, userID, action, resource, detail string) error {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Detail:    detail,
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := auditKey(sessionID)
	if err := a.store.RPush(ctx, key, string(b)); err != nil {
		return err
	}
	return a.store.LTrim(ctx, key, -auditMaxLen, -1)
}

// ListForSession returns a session's audit entries, oldest first.
func (a *AuditLog) ListForSession(ctx context.Context, sessionID string) ([]domain.AuditEntry, error) {
	raws, err := a.store.LRange(ctx, auditKey(sessionID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// List returns audit entries across every session, newest first, with
// limit/offset pagination — used by the operator-facing global audit view.
func (a *AuditLog) List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	keys, err := a.store.ScanKeys(ctx, sessPrefix+":")
	if err != nil {
		return nil, err
	}
	var all []domain.AuditEntry
	for _, k := range keys {
		if len(k) < len(":audit") || k[len(k)-len(":audit"):] != ":audit" {
			continue
		}
		raws, err := a.store.LRange(ctx, k, 0, -1)
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			var e domain.AuditEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				continue
			}
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	if offset >= len(all) {
		return []domain.AuditEntry{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// DeleteOlderThan rewrites every session's audit list dropping entries older
// than cutoff, returning the total number of entries removed. Used by the
// sweep worker's retention pass.
func (a *AuditLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := a.store.ScanKeys(ctx, sessPrefix+":")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if len(k) < len(":audit") || k[len(k)-len(":audit"):] != ":audit" {
			continue
		}
		raws, err := a.store.LRange(ctx, k, 0, -1)
		if err != nil {
			return removed, err
		}
		kept := 0
		for _, raw := range raws {
			var e domain.AuditEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				kept++
				continue
			}
			if e.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept++
		}
		if kept != len(raws) {
			if err := a.store.LTrim(ctx, k, int64(len(raws)-kept), -1); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
