package domain

import "time"

// Checkpoint is the point in the session lifecycle at which the rule engine runs.
type Checkpoint string

const (
	CheckpointPreflight Checkpoint = "preflight"
	CheckpointFinal     Checkpoint = "final"
)

// ValidCheckpoint reports whether c is one of the two defined checkpoints.
func ValidCheckpoint(c string) bool {
	return Checkpoint(c) == CheckpointPreflight || Checkpoint(c) == CheckpointFinal
}

// SelectedHunt is one selected hunt result, carried into a TaskSnapshot for
// either checkpoint.
type SelectedHunt struct {
	HuntID         int               `json:"hunt_id"`
	Model          string            `json:"model"`
	Response       string            `json:"response"`
	JudgeScore     *int              `json:"judge_score,omitempty"`
	JudgeCriteria  map[string]string `json:"judge_criteria,omitempty"`
	JudgeExplain   string            `json:"judge_explanation,omitempty"`
	IsBreaking     bool              `json:"is_breaking"`
}

// HumanReview is one trainer review of a hunt, present only at the final
// checkpoint.
type HumanReview struct {
	HuntID      int               `json:"hunt_id"`
	Grades      map[string]string `json:"grades,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Submitted   bool              `json:"submitted"`
}

// Criterion is one named grading criterion extracted from a task's config
// or notebook metadata.
type Criterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// TaskSnapshot is the pure, immutable projection of a session handed to the
// rule engine. It carries no store handle and triggers no I/O: every rule
// handler operates only on the fields below.
//
// Preflight snapshots carry SelectedHunts but no HumanReviews. Final
// snapshots carry both.
type TaskSnapshot struct {
	Checkpoint    Checkpoint        `json:"checkpoint"`
	SessionID     string            `json:"session_id"`
	Prompt        string            `json:"prompt"`
	Criteria      []Criterion       `json:"criteria,omitempty"`
	Reference     string            `json:"reference"`
	SelectedHunts []SelectedHunt    `json:"selected_hunts,omitempty"`
	HumanReviews  []HumanReview     `json:"human_reviews,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IssueSeverity classifies how strongly a ReviewIssue should block a transition.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ReviewIssue is one finding raised by a rule handler.
type ReviewIssue struct {
	RuleID   string                 `json:"rule_id"`
	Severity IssueSeverity          `json:"severity"`
	Message  string                 `json:"message"`
	Hint     string                 `json:"hint,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// ReviewResult is the aggregated outcome of running the rule engine over a
// TaskSnapshot: passed is false whenever any issue carries SeverityError.
type ReviewResult struct {
	Passed     bool          `json:"passed"`
	Issues     []ReviewIssue `json:"issues,omitempty"`
	Checkpoint Checkpoint    `json:"checkpoint"`
	Timestamp  time.Time     `json:"timestamp"`
}

// RuleDefinition is one entry in the configured rule table: which
// checkpoints it runs at, whether it's enabled, and opaque per-rule params.
type RuleDefinition struct {
	ID          string                 `yaml:"id" json:"id"`
	Checkpoints []Checkpoint           `yaml:"checkpoints" json:"checkpoints"`
	Enabled     bool                   `yaml:"enabled" json:"enabled"`
	Severity    IssueSeverity          `yaml:"severity" json:"severity"`
	Params      map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// CouncilVerdict is one judge model's vote on a single council prompt.
type CouncilVerdict struct {
	Model      string `json:"model"`
	Verdict    string `json:"verdict"` // "pass" | "fail" | "unclear"
	RawText    string `json:"raw_text,omitempty"`
	Err        string `json:"error,omitempty"`
}

// CouncilResult is the aggregated consensus across a council's judge models,
// plus the chairman synthesis when configured.
type CouncilResult struct {
	Verdicts        []CouncilVerdict `json:"verdicts"`
	Consensus       string           `json:"consensus"` // "pass" | "fail" | "unclear"
	Method          string           `json:"method"`     // "majority" | "unanimity" | "chairman"
	ChairmanVerdict string           `json:"chairman_verdict,omitempty"`
	ChairmanText    string           `json:"chairman_text,omitempty"`
}
