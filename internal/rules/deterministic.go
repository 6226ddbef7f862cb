package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/reviewlane/reviewer/internal/domain"
)

// checkModelConsistency requires all four selected responses to come from
// the same model. Grounded in rules/model_consistency.py.
func checkModelConsistency(_ context.Context, snap domain.TaskSnapshot, _ map[string]interface{}) (*domain.ReviewIssue, error) {
	if len(snap.SelectedHunts) < 4 {
		return &domain.ReviewIssue{
			RuleID:   "model_consistency",
			Severity: domain.SeverityError,
			Message:  "Exactly 4 responses must be selected.",
			Hint:     "Select exactly 4 responses for review.",
		}, nil
	}
	models := modelSet(snap.SelectedHunts)
	if len(models) == 1 {
		return nil, nil
	}
	return &domain.ReviewIssue{
		RuleID:   "model_consistency",
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("All 4 selected responses must be from the same model. Found: %d models (%s).", len(models), strings.Join(models, ", ")),
		Hint:     "Re-select 4 responses from a single model.",
	}, nil
}

// checkDiversity requires at least params["min_models"] (default 2)
// distinct models among the selected hunts. Grounded in rules/diversity.py.
func checkDiversity(_ context.Context, snap domain.TaskSnapshot, params map[string]interface{}) (*domain.ReviewIssue, error) {
	minModels := intParam(params, "min_models", 2)
	models := modelSet(snap.SelectedHunts)
	if len(models) >= minModels {
		return nil, nil
	}
	return &domain.ReviewIssue{
		RuleID:   "diversity",
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("Only %d model(s) in selection. Need at least %d.", len(models), minModels),
		Hint:     "Select responses from different models for better diversity.",
	}, nil
}

// checkSelectionCount requires exactly params["expected_count"] (default 4)
// selected hunts. Grounded in rules/selection.py.
func checkSelectionCount(_ context.Context, snap domain.TaskSnapshot, params map[string]interface{}) (*domain.ReviewIssue, error) {
	expected := intParam(params, "expected_count", 4)
	actual := len(snap.SelectedHunts)
	if actual == expected {
		return nil, nil
	}
	return &domain.ReviewIssue{
		RuleID:   "selection_count",
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("Expected %d selected responses, got %d.", expected, actual),
		Hint:     "Select exactly 4 responses for review.",
	}, nil
}

// checkCriteriaPresent requires at least one criterion extracted from the
// reference. Grounded in rules/criteria.py.
func checkCriteriaPresent(_ context.Context, snap domain.TaskSnapshot, _ map[string]interface{}) (*domain.ReviewIssue, error) {
	if len(snap.Criteria) >= 1 {
		return nil, nil
	}
	return &domain.ReviewIssue{
		RuleID:   "criteria_present",
		Severity: domain.SeverityError,
		Message:  "No criteria defined in the reference.",
		Hint:     `Add criteria in JSON format [{"id":"C1","criteria1":"..."}] or plain C1: desc.`,
	}, nil
}

func modelSet(hunts []domain.SelectedHunt) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range hunts {
		if !seen[h.Model] {
			seen[h.Model] = true
			out = append(out, h.Model)
		}
	}
	sort.Strings(out)
	return out
}

func intParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
