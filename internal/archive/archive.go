// Package archive persists the immutable record of an approved review: the
// TaskSnapshot the rule engine and council ran against, plus the
// ReviewResult they produced. This is the durable hand-off artifact a
// downstream training pipeline consumes once a session reaches "approved".
//
// Built on internal/storage.S3Store, the object-storage primitive adapted
// from the teacher's S3-backed pipeline file store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/storage"
)

// Record is the archived artifact for one approved session.
type Record struct {
	SessionID  string              `json:"session_id"`
	ApprovedAt time.Time           `json:"approved_at"`
	Snapshot   domain.TaskSnapshot `json:"snapshot"`
	Result     domain.ReviewResult `json:"result"`
}

// Store writes and reads approval Records through an object-storage backend.
type Store struct {
	backend *storage.S3Store
}

// New builds a Store over backend.
func New(backend *storage.S3Store) *Store {
	return &Store{backend: backend}
}

func recordPath(sessionID string, approvedAt time.Time) string {
	return fmt.Sprintf("approvals/%s/%s.json", sessionID, approvedAt.UTC().Format("20060102T150405.000000000Z"))
}

// WriteApproval archives one approved session's snapshot and result. Each
// call writes a new timestamped object rather than overwriting — a session
// can in principle be approved more than once across its lifetime (returned
// and resubmitted), and every approval is kept.
func (s *Store) WriteApproval(ctx context.Context, sessionID string, snap domain.TaskSnapshot, result domain.ReviewResult, approvedAt time.Time) error {
	rec := Record{SessionID: sessionID, ApprovedAt: approvedAt, Snapshot: snap, Result: result}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}
	if _, err := s.backend.WriteFile(ctx, recordPath(sessionID, approvedAt), body); err != nil {
		return fmt.Errorf("archive: write record: %w", err)
	}
	return nil
}

// ListApprovals returns every archived approval record for sessionID,
// oldest first.
func (s *Store) ListApprovals(ctx context.Context, sessionID string) ([]Record, error) {
	prefix := fmt.Sprintf("approvals/%s/", sessionID)
	files, err := s.backend.ListFiles(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("archive: list records: %w", err)
	}

	out := make([]Record, 0, len(files))
	for _, f := range files {
		fc, err := s.backend.ReadFile(ctx, f.Path)
		if err != nil {
			return nil, fmt.Errorf("archive: read record %s: %w", f.Path, err)
		}
		if fc == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(fc.Content), &rec); err != nil {
			return nil, fmt.Errorf("archive: unmarshal record %s: %w", f.Path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
