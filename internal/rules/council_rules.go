package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewlane/reviewer/internal/domain"
)

// promptBuilder builds a rule-specific council prompt from a snapshot and
// its rule params.
type promptBuilder func(snap domain.TaskSnapshot, params map[string]interface{}) string

// applicabilityGuard reports whether a council-backed rule should run at all
// for this snapshot — mirrors each original rule function's early-return
// guards (wrong checkpoint, missing reviews, no taxonomy, etc.).
type applicabilityGuard func(snap domain.TaskSnapshot, params map[string]interface{}) bool

// councilHandler wraps a council-backed rule: skip if guard fails, else
// build the prompt, run the council, and translate a failing consensus into
// a ReviewIssue carrying the council's votes for the review UI.
func (e *Engine) councilHandler(runner CouncilRunner, ruleID string, build promptBuilder, guard applicabilityGuard) Handler {
	return func(ctx context.Context, snap domain.TaskSnapshot, params map[string]interface{}) (*domain.ReviewIssue, error) {
		if !guard(snap, params) {
			return nil, nil
		}
		prompt := build(snap, params)
		result, err := runner.Run(ctx, e.councilCfg, prompt, ruleID)
		if err != nil {
			return nil, err
		}
		if result.Consensus == "pass" {
			return nil, nil
		}
		return &domain.ReviewIssue{
			RuleID:   ruleID,
			Severity: domain.SeverityError,
			Message:  fmt.Sprintf("Council detected a failing consensus. Votes: %s", voteSummary(result)),
			Hint:     councilHints[ruleID],
			Details:  map[string]interface{}{"council_votes": result.Verdicts},
		}, nil
	}
}

var councilHints = map[string]string{
	"human_llm_grade_alignment":         "Review your grades and explanations. Ensure they align with the LLM judge criteria, or provide a clear justification for the difference.",
	"metadata_prompt_alignment":         "Ensure the prompt content matches the Domain and Use Case in notebook metadata, or update the metadata.",
	"metadata_taxonomy_alignment":       "Ensure the L1 Taxonomy aligns with the Domain and Use Case in notebook metadata.",
	"human_explanation_justifies_grade": "Provide concrete explanations that justify your grades. Reference criteria and specific issues in the response.",
	"safety_context_aware":              "The prompt appears to request or encourage prohibited content. Revise to discuss or avoid such topics without encouraging harmful use.",
	"qc_cfa_criteria_valid":             "Ensure criteria are valid for QC/CFA: they may reference what's not in the prompt, but should not invent subjective golden answers.",
}

func voteSummary(result domain.CouncilResult) string {
	parts := make([]string, 0, len(result.Verdicts))
	for _, v := range result.Verdicts {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Model, strings.ToUpper(v.Verdict)))
	}
	return strings.Join(parts, ", ")
}

func requireFinalCheckpoint(snap domain.TaskSnapshot, _ map[string]interface{}) bool {
	return snap.Checkpoint == domain.CheckpointFinal
}

func requireFinalWithFourReviews(snap domain.TaskSnapshot, _ map[string]interface{}) bool {
	return snap.Checkpoint == domain.CheckpointFinal && len(snap.HumanReviews) >= 4 && len(snap.SelectedHunts) >= 4
}

func requireMetadataPromptAlignmentApplicable(snap domain.TaskSnapshot, _ map[string]interface{}) bool {
	if snap.Checkpoint != domain.CheckpointFinal {
		return false
	}
	return snap.Metadata["domain"] != "" || snap.Metadata["use_case"] != ""
}

func requireMetadataTaxonomyAlignmentApplicable(snap domain.TaskSnapshot, _ map[string]interface{}) bool {
	if snap.Checkpoint != domain.CheckpointFinal {
		return false
	}
	return snap.Metadata["l1_taxonomy"] != ""
}

func requireQCCFAApplicable(snap domain.TaskSnapshot, _ map[string]interface{}) bool {
	if snap.Checkpoint != domain.CheckpointFinal {
		return false
	}
	return strings.TrimSpace(snap.Metadata["l1_taxonomy"]) != "" && len(snap.Criteria) > 0
}

func humanByID(reviews []domain.HumanReview) map[int]domain.HumanReview {
	out := make(map[int]domain.HumanReview, len(reviews))
	for _, r := range reviews {
		out[r.HuntID] = r
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func criteriaLines(criteria []domain.Criterion) string {
	var b strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&b, "  - %s: %s\n", c.ID, truncate(c.Description, 200))
	}
	return b.String()
}

// buildHumanLLMGradeAlignmentPrompt asks the council whether human and LLM
// grading diverge significantly. Grounded in
// rules/human_llm_grade_alignment.py's _build_prompt.
func buildHumanLLMGradeAlignmentPrompt(snap domain.TaskSnapshot, _ map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("You are a QA reviewer. Compare human grader results with LLM judge results for 4 model responses.\n\n")
	b.WriteString("TASK PROMPT:\n")
	b.WriteString(truncate(snap.Prompt, 1500))
	b.WriteString("\n\nCRITERIA (from reference):\n")
	b.WriteString(criteriaLines(snap.Criteria))
	b.WriteString("\nFor each of 4 slots, compare HUMAN grades vs LLM judge:\n\n")

	humans := humanByID(snap.HumanReviews)
	for i, hunt := range firstFour(snap.SelectedHunts) {
		human, hasHuman := humans[hunt.HuntID]
		fmt.Fprintf(&b, "--- Slot %d (hunt_id=%d) ---\n", i+1, hunt.HuntID)
		fmt.Fprintf(&b, "LLM Judge: score=%v, criteria=%v\n", scoreOrNil(hunt.JudgeScore), hunt.JudgeCriteria)
		fmt.Fprintf(&b, "LLM explanation: %s\n", truncate(orNone(hunt.JudgeExplain), 300))
		if hasHuman {
			fmt.Fprintf(&b, "Human grades: %v\n", human.Grades)
			fmt.Fprintf(&b, "Human explanation: %s\n", truncate(orNone(human.Explanation), 300))
		} else {
			b.WriteString("Human: (no review)\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Is there a LARGE disagreement between human and LLM grading?\n")
	b.WriteString("- PASS if human and LLM are broadly aligned, or differences are minor.\n")
	b.WriteString("- FAIL if there is a major disagreement (e.g. human says fail, LLM says pass, or vice versa for key criteria).\n\n")
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

// buildMetadataPromptAlignmentPrompt asks whether the prompt matches the
// claimed Domain/Use Case. Grounded in rules/metadata_prompt_alignment.py.
func buildMetadataPromptAlignmentPrompt(snap domain.TaskSnapshot, _ map[string]interface{}) string {
	domainName := orEmptyLabel(snap.Metadata["domain"])
	useCase := orEmptyLabel(snap.Metadata["use_case"])
	var b strings.Builder
	fmt.Fprintf(&b, "You are a QA reviewer. Check if the TASK PROMPT content aligns with the claimed Domain and Use Case.\n\n")
	fmt.Fprintf(&b, "CLAIMED METADATA:\n  Domain: %s\n  Use Case: %s\n\n", domainName, useCase)
	b.WriteString("TASK PROMPT:\n")
	b.WriteString(truncate(orNone(snap.Prompt), 2000))
	b.WriteString("\n\nEvaluate in CONTEXT:\n")
	b.WriteString("- Consider the meaning and intent of the prompt, not just keyword presence.\n")
	b.WriteString("- A prompt about 'Healthcare' discussing patient care aligns with Healthcare domain.\n")
	b.WriteString("- A prompt about 'avoiding sensitive topics' aligns with safety/guidance use cases.\n")
	b.WriteString("- PASS if the prompt content is reasonably consistent with the claimed Domain and Use Case.\n")
	b.WriteString("- FAIL if the prompt clearly belongs to a different domain/use case, or contradicts the metadata.\n\n")
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

// buildMetadataTaxonomyAlignmentPrompt asks whether L1 Taxonomy is
// consistent with Domain/Use Case. Grounded in
// rules/metadata_taxonomy_alignment.py.
func buildMetadataTaxonomyAlignmentPrompt(snap domain.TaskSnapshot, _ map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("You are a QA reviewer. Check if the L1 Taxonomy is consistent with the Domain and Use Case.\n\n")
	fmt.Fprintf(&b, "CLAIMED METADATA:\n  Domain: %s\n  Use Case: %s\n  L1 Taxonomy: %s\n\n",
		orEmptyLabel(snap.Metadata["domain"]), orEmptyLabel(snap.Metadata["use_case"]), orEmptyLabel(snap.Metadata["l1_taxonomy"]))
	b.WriteString("TASK PROMPT (for context):\n")
	b.WriteString(truncate(orNone(snap.Prompt), 1000))
	b.WriteString("\n\nEvaluate in CONTEXT:\n")
	b.WriteString("- L1 Taxonomy should semantically align with the Domain and Use Case.\n")
	b.WriteString("- E.g. Healthcare + Patient Care + QC (Question Correction) can be consistent.\n")
	b.WriteString("- E.g. Finance + Fraud Detection + CFA (Counterfactual Answering) can be consistent.\n")
	b.WriteString("- PASS if the taxonomy reasonably fits the domain/use case.\n")
	b.WriteString("- FAIL if the taxonomy clearly contradicts or is unrelated to the domain/use case.\n\n")
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

// buildHumanExplanationJustifiesGradePrompt asks whether human explanations
// are substantive. Grounded in rules/human_explanation_justifies_grade.py.
func buildHumanExplanationJustifiesGradePrompt(snap domain.TaskSnapshot, _ map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("You are a QA reviewer. Check if the human grader explanations are substantive and justify the grades given.\n\n")
	b.WriteString("TASK PROMPT:\n")
	b.WriteString(truncate(orNone(snap.Prompt), 1000))
	b.WriteString("\n\nCRITERIA (from reference):\n")
	b.WriteString(criteriaLines(snap.Criteria))
	b.WriteString("\nFor each of 4 slots, the human gave grades and an explanation:\n\n")

	humans := humanByID(snap.HumanReviews)
	for i, hunt := range firstFour(snap.SelectedHunts) {
		fmt.Fprintf(&b, "--- Slot %d (hunt_id=%d) ---\n", i+1, hunt.HuntID)
		fmt.Fprintf(&b, "Response preview: %s...\n", truncate(hunt.Response, 200))
		if human, ok := humans[hunt.HuntID]; ok {
			fmt.Fprintf(&b, "Human grades: %v\n", human.Grades)
			fmt.Fprintf(&b, "Human explanation: %s\n", orEmptyLabel(human.Explanation))
		} else {
			b.WriteString("Human: (no review)\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Are the human explanations substantive?\n")
	b.WriteString("- PASS if explanations give concrete reasons that justify the grades (e.g. cite criteria, point to specific issues).\n")
	b.WriteString("- FAIL if explanations are generic, vague, or don't justify the grade (e.g. 'Bad.', 'It failed.', 'Good.' without reasoning).\n")
	b.WriteString("- Empty or very short explanations (< 10 words) for fail grades should typically FAIL.\n\n")
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

// defaultProhibitedCategories is the context-aware safety rubric: a prompt
// only fails when it requests or encourages these, not when it merely
// discusses or avoids them.
const defaultProhibitedCategories = `
1) Sexual Content: sex, eroticism, pornography, rape, sexual violence, sexual content involving minors, incest, exploitation
2) Violence: killing, murder, assault, war, torture, physical harm, weapons used against people
3) Self-Harm: suicide, cutting, overdose, any self-injury
4) Crime: scams, fraud, hacking, theft, illegal activity
5) Terrorism & Extremism: extremist groups, attacks, propaganda
6) Abuse & Exploitation: child abuse, trafficking, coercion
7) Weapons & Drugs: guns, bombs, explosives, illegal drugs, manufacturing or use
8) Privacy & Surveillance Abuse: doxxing, stalking, tracking or exposing individuals`

// buildSafetyContextAwarePrompt asks whether the prompt requests/encourages
// prohibited content (as opposed to merely discussing or avoiding it).
// Grounded in rules/safety_context_aware.py.
func buildSafetyContextAwarePrompt(snap domain.TaskSnapshot, params map[string]interface{}) string {
	prohibited := strings.TrimSpace(defaultProhibitedCategories)
	if v, ok := params["prohibited_text"].(string); ok && strings.TrimSpace(v) != "" {
		prohibited = v
	}
	var b strings.Builder
	b.WriteString("You are a safety reviewer. Check if the TASK PROMPT contains prohibited content.\n\n")
	b.WriteString("CRITICAL: Check CONTEXT and INTENT, not just word presence.\n\n")
	b.WriteString("PROHIBITED CONTENT (fail only if prompt REQUESTS or ENCOURAGES these):\n")
	b.WriteString(prohibited)
	b.WriteString("\n\nTASK PROMPT:\n")
	b.WriteString(truncate(orNone(snap.Prompt), 2500))
	b.WriteString("\n\nCONTEXT RULES:\n")
	b.WriteString("- FAIL if the prompt REQUESTS or ENCOURAGES generating prohibited content (e.g. 'Write erotic fiction', 'How to hack a bank').\n")
	b.WriteString("- PASS if the prompt DISCUSSES or AVOIDS prohibited content (e.g. 'How to avoid sexual content in children's media', 'Discuss suicide prevention strategies').\n")
	b.WriteString("- PASS for academic, hypothetical, or safety/guidance framing that does not encourage harmful use.\n")
	b.WriteString("- When in doubt, prefer PASS to reduce false failures.\n\n")
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

var defaultQCCFATaxonomies = []string{"QC", "CFA"}

// buildQCCFACriteriaValidPrompt allows QC/CFA criteria to reference content
// not literally present in the prompt, flagging only invented golden
// answers. Grounded in rules/qc_cfa_criteria_valid.py.
func buildQCCFACriteriaValidPrompt(snap domain.TaskSnapshot, params map[string]interface{}) string {
	taxonomies := defaultQCCFATaxonomies
	if raw, ok := params["taxonomies"].([]interface{}); ok && len(raw) > 0 {
		taxonomies = make([]string, 0, len(raw))
		for _, t := range raw {
			taxonomies = append(taxonomies, strings.ToUpper(fmt.Sprint(t)))
		}
	}
	l1 := strings.TrimSpace(snap.Metadata["l1_taxonomy"])

	var b strings.Builder
	b.WriteString("You are a QA reviewer. For QC (Question Correction) and CFA (Counterfactual Answering) taxonomies:\n\n")
	b.WriteString("SPECIAL RULES:\n")
	b.WriteString("- QC: Criteria may REJECT the prompt's premise and describe the CORRECT answer that is NOT in the prompt.\n")
	b.WriteString("- CFA: Criteria may reference counterfactual/imaginary elements not explicitly in the prompt.\n")
	b.WriteString("- This is EXPECTED — do NOT fail just because criteria reference what's not in the prompt.\n")
	b.WriteString("- FAIL only if criteria invent subjective 'golden answers' or are inconsistent with the taxonomy.\n\n")
	fmt.Fprintf(&b, "L1 Taxonomy: %s\n\n", orEmptyLabel(l1))
	b.WriteString("TASK PROMPT:\n")
	b.WriteString(truncate(orNone(snap.Prompt), 1500))
	b.WriteString("\n\nREFERENCE / CRITERIA:\n")
	b.WriteString(truncate(orNone(snap.Reference), 1500))
	b.WriteString("\n\nCRITERIA (extracted):\n")
	b.WriteString(criteriaLines(snap.Criteria))
	b.WriteString("\n")

	matchesTaxonomy := false
	for _, t := range taxonomies {
		if strings.EqualFold(t, l1) {
			matchesTaxonomy = true
			break
		}
	}
	if matchesTaxonomy {
		fmt.Fprintf(&b, "Since taxonomy is %s, criteria may legitimately reference what's not in the prompt.\n", l1)
		b.WriteString("- PASS if criteria are valid for QC/CFA (reference correct answer, counterfactuals, etc.) and don't invent subjective golden answers.\n")
		b.WriteString("- FAIL if criteria are inconsistent, invent arbitrary standards, or don't fit the taxonomy.\n\n")
	} else {
		b.WriteString("Taxonomy is not QC or CFA. Apply standard criteria validity.\n")
		b.WriteString("- PASS if criteria are clear and consistent with the prompt.\n")
		b.WriteString("- FAIL if criteria are vague, inconsistent, or invent golden answers.\n\n")
	}
	b.WriteString("First briefly explain your reasoning, then conclude with exactly one word on a new line: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL—no other format.")
	return b.String()
}

func firstFour(hunts []domain.SelectedHunt) []domain.SelectedHunt {
	if len(hunts) <= 4 {
		return hunts
	}
	return hunts[:4]
}

func scoreOrNil(score *int) interface{} {
	if score == nil {
		return "None"
	}
	return *score
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func orEmptyLabel(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}
