// Package rules is the C7 rule engine: a declarative, configuration-driven
// set of checks run against a domain.TaskSnapshot at a given checkpoint,
// aggregated into a domain.ReviewResult. Grounded in original_source's
// rule_engine.py and rules/*.py.
package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
)

// Handler runs one rule against a snapshot, returning nil when the rule
// passes or a ReviewIssue describing the failure.
type Handler func(ctx context.Context, snap domain.TaskSnapshot, params map[string]interface{}) (*domain.ReviewIssue, error)

// CouncilRunner is the subset of council.Service the council-backed handlers
// need — satisfied by *council.Service, swappable in tests.
type CouncilRunner interface {
	Run(ctx context.Context, cfg config.CouncilConfig, prompt, ruleID string) (domain.CouncilResult, error)
}

// Engine holds the fixed, startup-built registration table and runs rule
// definitions loaded from configuration against snapshots.
//
// [REDESIGN, per spec.md §9]: the registration table is an explicit Go map
// built once at construction, replacing the original's decorator-based
// runtime registration (rules/registry.py's register_rule decorator
// populating a package-level dict as each rules/*.py module imports).
type Engine struct {
	registry    map[string]Handler
	councilCfg  config.CouncilConfig
	logger      *slog.Logger
}

// New builds the fixed registry, wiring the council-backed handlers against
// runner and the configured council (model list, consensus policy).
func New(runner CouncilRunner, councilCfg config.CouncilConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{councilCfg: councilCfg, logger: logger}
	e.registry = map[string]Handler{
		"model_consistency":              checkModelConsistency,
		"diversity":                      checkDiversity,
		"selection_count":                checkSelectionCount,
		"criteria_present":                checkCriteriaPresent,
		"human_llm_grade_alignment":       e.councilHandler(runner, "human_llm_grade_alignment", buildHumanLLMGradeAlignmentPrompt, requireFinalWithFourReviews),
		"metadata_prompt_alignment":       e.councilHandler(runner, "metadata_prompt_alignment", buildMetadataPromptAlignmentPrompt, requireMetadataPromptAlignmentApplicable),
		"metadata_taxonomy_alignment":     e.councilHandler(runner, "metadata_taxonomy_alignment", buildMetadataTaxonomyAlignmentPrompt, requireMetadataTaxonomyAlignmentApplicable),
		"human_explanation_justifies_grade": e.councilHandler(runner, "human_explanation_justifies_grade", buildHumanExplanationJustifiesGradePrompt, requireFinalWithFourReviews),
		"safety_context_aware":           e.councilHandler(runner, "safety_context_aware", buildSafetyContextAwarePrompt, requireFinalCheckpoint),
		"qc_cfa_criteria_valid":          e.councilHandler(runner, "qc_cfa_criteria_valid", buildQCCFACriteriaValidPrompt, requireQCCFAApplicable),
	}
	return e
}

// defaultCheckpoints is applied to a rule definition that doesn't specify
// one, matching the original's "checkpoints or ['preflight', 'final']".
var defaultCheckpoints = []domain.Checkpoint{domain.CheckpointPreflight, domain.CheckpointFinal}

func appliesToCheckpoint(def domain.RuleDefinition, checkpoint domain.Checkpoint) bool {
	checkpoints := def.Checkpoints
	if len(checkpoints) == 0 {
		checkpoints = defaultCheckpoints
	}
	for _, c := range checkpoints {
		if c == checkpoint {
			return true
		}
	}
	return false
}

func filterRules(defs []domain.RuleDefinition, checkpoint domain.Checkpoint) []domain.RuleDefinition {
	var out []domain.RuleDefinition
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		if !appliesToCheckpoint(d, checkpoint) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Run executes every enabled rule applicable to snap.Checkpoint, in
// declared order, and aggregates the result. An unregistered rule id is
// logged and skipped; a handler error becomes a synthetic issue rather than
// aborting the run, so one broken rule can never block every other rule
// from reporting.
func (e *Engine) Run(ctx context.Context, snap domain.TaskSnapshot, defs []domain.RuleDefinition) domain.ReviewResult {
	var issues []domain.ReviewIssue
	for _, def := range filterRules(defs, snap.Checkpoint) {
		issue := e.runOne(ctx, def, snap)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return domain.ReviewResult{
		Passed:     len(issues) == 0,
		Issues:     issues,
		Checkpoint: snap.Checkpoint,
		Timestamp:  time.Now(),
	}
}

func (e *Engine) runOne(ctx context.Context, def domain.RuleDefinition, snap domain.TaskSnapshot) (issue *domain.ReviewIssue) {
	handler, ok := e.registry[def.ID]
	if !ok {
		e.logger.Warn("rule not registered", "rule_id", def.ID)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule handler panicked", "rule_id", def.ID, "panic", r)
			issue = ruleErrorIssue(def.ID)
		}
	}()

	result, err := handler(ctx, snap, def.Params)
	if err != nil {
		e.logger.Error("rule handler failed", "rule_id", def.ID, "error", err)
		return ruleErrorIssue(def.ID)
	}
	return result
}

func ruleErrorIssue(ruleID string) *domain.ReviewIssue {
	return &domain.ReviewIssue{
		RuleID:   ruleID,
		Severity: domain.SeverityError,
		Message:  "rule error",
		Hint:     "see logs",
	}
}

// Event tags one milestone in a streaming rule run.
type Event struct {
	RuleID string
	Stage  string // "started" | "completed"
	Issue  *domain.ReviewIssue
}

// RunStreaming runs the same rules as Run but emits a started/completed
// Event pair per rule in declared order, so a caller can surface live
// per-rule progress (e.g. over SSE) instead of waiting for the whole batch.
func (e *Engine) RunStreaming(ctx context.Context, snap domain.TaskSnapshot, defs []domain.RuleDefinition, emit func(Event)) domain.ReviewResult {
	var issues []domain.ReviewIssue
	for _, def := range filterRules(defs, snap.Checkpoint) {
		if emit != nil {
			emit(Event{RuleID: def.ID, Stage: "started"})
		}
		issue := e.runOne(ctx, def, snap)
		if issue != nil {
			issues = append(issues, *issue)
		}
		if emit != nil {
			emit(Event{RuleID: def.ID, Stage: "completed", Issue: issue})
		}
	}
	return domain.ReviewResult{
		Passed:     len(issues) == 0,
		Issues:     issues,
		Checkpoint: snap.Checkpoint,
		Timestamp:  time.Now(),
	}
}
