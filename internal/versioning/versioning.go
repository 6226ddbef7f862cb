// Package versioning implements C3: optimistic-locking version counters,
// idempotency-key caching, version-history snapshots, and field-level
// diffing between two historical review states. Grounded directly in
// original_source's versioning.py, translated onto the review:* key family.
package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/store"
)

const (
	sessPrefix  = "review:sess"
	idempPrefix = "review:idemp"
	maxVersions = 20
)

// Service implements C3 over a keyed store.
type Service struct {
	store    store.Store
	idempTTL time.Duration
	sessTTL  time.Duration
}

// New constructs a Service. idempTTL defaults to 24h, sessTTL to 4h.
func New(s store.Store, idempTTL, sessTTL time.Duration) *Service {
	if idempTTL <= 0 {
		idempTTL = 24 * time.Hour
	}
	if sessTTL <= 0 {
		sessTTL = 4 * time.Hour
	}
	return &Service{store: s, idempTTL: idempTTL, sessTTL: sessTTL}
}

func metaKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:meta", sessPrefix, sessionID)
}

func reviewsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:reviews", sessPrefix, sessionID)
}

func versionsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:versions", sessPrefix, sessionID)
}

// IncrVersion atomically increments and returns the session's version.
func (s *Service) IncrVersion(ctx context.Context, sessionID string) (int64, error) {
	return s.store.HIncrBy(ctx, metaKey(sessionID), "version", 1)
}

// GetVersion reads the current version, 0 if unset or non-numeric.
func (s *Service) GetVersion(ctx context.Context, sessionID string) (int64, error) {
	v, ok, err := s.store.HGet(ctx, metaKey(sessionID), "version")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, nil
	}
	return n, nil
}

// CheckVersionMatch compares expected against the current version. expected
// == 0 always matches (caller opted out of optimistic locking).
func (s *Service) CheckVersionMatch(ctx context.Context, sessionID string, expected int64) (bool, int64, error) {
	current, err := s.GetVersion(ctx, sessionID)
	if err != nil {
		return false, 0, err
	}
	return current == expected || expected == 0, current, nil
}

// CheckIdempotency returns the cached response body for key, if present.
func (s *Service) CheckIdempotency(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	return s.store.Get(ctx, idempKey(key))
}

// StoreIdempotency caches response under key for idempTTL.
func (s *Service) StoreIdempotency(ctx context.Context, key, response string) error {
	if key == "" {
		return nil
	}
	return s.store.Set(ctx, idempKey(key), response, s.idempTTL)
}

func idempKey(key string) string {
	return fmt.Sprintf("%s:%s", idempPrefix, key)
}

// SnapshotForHistory captures the session's current reviews map as a
// versioned snapshot, trimmed to the most recent maxVersions entries.
func (s *Service) SnapshotForHistory(ctx context.Context, sessionID string, round int) error {
	raw, ok, err := s.store.Get(ctx, reviewsKey(sessionID))
	if err != nil {
		return err
	}
	reviews := map[string]domain.ReviewSlot{}
	if ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &reviews)
	}

	snap := domain.VersionSnapshot{Round: round, Timestamp: time.Now().UTC(), Reviews: reviews}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	key := versionsKey(sessionID)
	if err := s.store.RPush(ctx, key, string(b)); err != nil {
		return err
	}
	if err := s.store.LTrim(ctx, key, -maxVersions, -1); err != nil {
		return err
	}
	return s.store.Expire(ctx, key, s.sessTTL)
}

// GetVersionHistory returns every snapshot for a session, 1-indexed oldest first.
func (s *Service) GetVersionHistory(ctx context.Context, sessionID string) ([]domain.VersionSnapshot, error) {
	raws, err := s.store.LRange(ctx, versionsKey(sessionID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VersionSnapshot, 0, len(raws))
	for i, raw := range raws {
		var snap domain.VersionSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		if snap.Round == 0 {
			snap.Round = i + 1
		}
		out = append(out, snap)
	}
	return out, nil
}

// Diff computes a field-level diff between two review-map snapshots, over
// the grades/explanation/submitted fields plus whole-slot insertions and
// removals.
func Diff(oldReviews, newReviews map[string]domain.ReviewSlot) []domain.DiffEntry {
	keys := map[string]bool{}
	for k := range oldReviews {
		keys[k] = true
	}
	for k := range newReviews {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []domain.DiffEntry
	for _, k := range sorted {
		oldSlot, hadOld := oldReviews[k]
		newSlot, hasNew := newReviews[k]

		if !hadOld {
			changes = append(changes, domain.DiffEntry{Slot: k, Field: "added", Old: "", New: "new review"})
			continue
		}
		if !hasNew {
			changes = append(changes, domain.DiffEntry{Slot: k, Field: "removed", Old: "had review", New: ""})
			continue
		}

		if ov, nv := gradesString(oldSlot.Grades), gradesString(newSlot.Grades); ov != nv {
			changes = append(changes, domain.DiffEntry{Slot: k, Field: "grades", Old: ov, New: nv})
		}
		if oldSlot.Explanation != newSlot.Explanation {
			changes = append(changes, domain.DiffEntry{Slot: k, Field: "explanation", Old: oldSlot.Explanation, New: newSlot.Explanation})
		}
		if oldSlot.Submitted != newSlot.Submitted {
			changes = append(changes, domain.DiffEntry{Slot: k, Field: "submitted", Old: fmt.Sprintf("%t", oldSlot.Submitted), New: fmt.Sprintf("%t", newSlot.Submitted)})
		}
	}
	return changes
}

func gradesString(g map[string]string) string {
	if len(g) == 0 {
		return ""
	}
	b, _ := json.Marshal(g)
	return string(b)
}

// SetAcknowledged records that the trainer acknowledged reviewer feedback.
func (s *Service) SetAcknowledged(ctx context.Context, sessionID string) (time.Time, error) {
	ts := time.Now().UTC()
	if err := s.store.HSet(ctx, metaKey(sessionID), "acknowledged_at", ts.Format(time.RFC3339)); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// GetAcknowledgedAt returns the recorded acknowledgment time, if any.
func (s *Service) GetAcknowledgedAt(ctx context.Context, sessionID string) (*time.Time, error) {
	v, ok, err := s.store.HGet(ctx, metaKey(sessionID), "acknowledged_at")
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

// ClearAcknowledged removes the acknowledgment field.
func (s *Service) ClearAcknowledged(ctx context.Context, sessionID string) error {
	return s.store.HDel(ctx, metaKey(sessionID), "acknowledged_at")
}
