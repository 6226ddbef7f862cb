// Package domain defines the core business types shared across reviewerd.
// These types represent the review pipeline's data model — not HTTP specifics.
//
// Design note on JSON tags in domain types: domain types carry json tags
// because they are serialized directly in API responses and stored directly
// as record values in the keyed store. This is intentional: separate
// API/storage response types for every domain model would add boilerplate
// without measurable benefit. When the API shape diverges from the stored
// shape (computed fields, omitted internal fields), define a response struct
// in the api package instead.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound indicates a lookup found no matching record.
var ErrNotFound = errors.New("not found")

// ReviewStatus is the review state-machine value stored in meta.review_status.
type ReviewStatus string

const (
	ReviewDraft     ReviewStatus = "draft"
	ReviewSubmitted ReviewStatus = "submitted"
	ReviewReturned  ReviewStatus = "returned"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewEscalated ReviewStatus = "escalated"
)

// ValidReviewStatus reports whether s is one of the six defined review statuses.
func ValidReviewStatus(s string) bool {
	switch ReviewStatus(s) {
	case ReviewDraft, ReviewSubmitted, ReviewReturned, ReviewApproved, ReviewRejected, ReviewEscalated:
		return true
	}
	return false
}

// ExecutionStatus is the trainer-app execution status stored in the
// session's status key. Distinct from ReviewStatus: this tracks hunt
// execution, not human review.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
)

// Role is a resolved identity role from the (external) identity directory.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleReviewer   Role = "reviewer"
	RoleTrainer    Role = "trainer"
)

// Config is the trainer-supplied hunt configuration for a session.
type Config struct {
	Models      []string `json:"models"`
	WorkerCount int      `json:"worker_count"`
	// JudgeSettings is opaque to the core: arbitrary key/value knobs
	// consumed by the out-of-scope hunt-execution collaborator.
	JudgeSettings map[string]string `json:"judge_settings,omitempty"`
}

// Turn is one prompt/reference/selection round of a (possibly multi-turn) session.
type Turn struct {
	Prompt          string `json:"prompt"`
	Reference       string `json:"reference"`
	SelectedHuntIDs []int  `json:"selected_hunt_ids,omitempty"`
}

// Notebook is the trainer-uploaded record: per-turn prompt/reference history
// plus free-form metadata (task identity fields, domain, taxonomy, etc.).
type Notebook struct {
	Turns      []Turn            `json:"turns"`
	History    []ChatMessage     `json:"history,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CurrentIdx int               `json:"current_turn_index"`
}

// ChatMessage is one entry in the session's conversation history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HuntResult is one model's attempt at answering the prompt.
type HuntResult struct {
	HuntID       int    `json:"hunt_id"`
	Model        string `json:"model"`
	Response     string `json:"response"`
	JudgeScore   *int   `json:"judge_score,omitempty"`
	JudgeExplain string `json:"judge_explanation,omitempty"`
	IsBreaking   bool   `json:"is_breaking"`
}

// ReviewSlot is a trainer's review of one selected hunt.
type ReviewSlot struct {
	HuntID      int               `json:"hunt_id"`
	Grades      map[string]string `json:"grades,omitempty"` // criterion id -> "pass"|"fail"
	Explanation string            `json:"explanation,omitempty"`
	Submitted   bool              `json:"submitted"`
}

// Feedback is the reviewer's comment record attached on return/reject.
type Feedback struct {
	Overall       string            `json:"overall,omitempty"`
	PerSection    map[string]string `json:"per_section,omitempty"`
	Ratings       map[string]int    `json:"ratings,omitempty"`
	RevisionFlags []string          `json:"revision_flags,omitempty"`
	Round         int               `json:"round"`
	At            time.Time         `json:"at"`
}

// Meta holds the authoritative atomic-field hash for a session.
type Meta struct {
	Version        int64        `json:"version"`
	TotalHunts     int          `json:"total_hunts"`
	CompletedHunts int          `json:"completed_hunts"`
	BreaksFound    int          `json:"breaks_found"`
	ReviewStatus   ReviewStatus `json:"review_status"`
	ReviewRound    int          `json:"review_round"`
	QCDone         bool         `json:"qc_done"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	ResubmittedAt  *time.Time   `json:"resubmitted_at,omitempty"`
	TrainerEmail   string       `json:"trainer_email"`
}

// VersionSnapshot is one historical entry in a session's capped version history.
type VersionSnapshot struct {
	Round     int                   `json:"round"`
	Timestamp time.Time             `json:"timestamp"`
	Reviews   map[string]ReviewSlot `json:"reviews"`
}

// DiffEntry is one field-level change between two review-map snapshots.
type DiffEntry struct {
	Slot  string `json:"slot"`
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// AuditEntry is one append-only action log entry for a session.
type AuditEntry struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"actor"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	Detail    string    `json:"details,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

// PresenceEntry is one viewer's live presence on a session.
type PresenceEntry struct {
	Role      Role      `json:"role"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is one entry in a user's capped notification list.
type Notification struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	SessionID     string    `json:"session_id"`
	TaskDisplayID string    `json:"task_display_id,omitempty"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Read          bool      `json:"read"`
}

// BulkItemResult is one item's outcome in a bulk operation.
type BulkItemResult struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// BulkResult is the shared {succeeded, failed} shape for bulk operations.
type BulkResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []BulkItemResult `json:"failed"`
}
