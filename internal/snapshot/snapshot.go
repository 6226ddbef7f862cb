// Package snapshot builds the pure, I/O-free TaskSnapshot the rule engine
// runs against, projected out of a session's full materialized state.
// Grounded in original_source's snapshot_builder.py.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/session"
)

// ErrWrongSelectionCount is returned when the caller-supplied (preflight) or
// derived (final) set of selected hunt ids is not exactly four.
var ErrWrongSelectionCount = errors.New("snapshot: expected exactly 4 selected hunt ids")

var criteriaArrayRe = regexp.MustCompile(`(?s)\[.*?\]`)
var criteriaLineRe = regexp.MustCompile(`(?mi)^(C\d+)\s*[:：]\s*(.+)$`)

var metadataAliases = map[string][]string{
	"domain":             {"Domain", "Domain:", "domain"},
	"use_case":           {"Use Case", "UseCase", "Use Case:", "use_case"},
	"l1_taxonomy":        {"L1 Taxonomy", "L1Taxonomy", "L1 Taxonomy:", "l1_taxonomy"},
	"task_id":            {"Task ID", "TaskID", "task_id"},
	"model":              {"Model", "model"},
	"user_prompt_length": {"User Prompt Length", "UserPromptLength", "user_prompt_length"},
}

// Build projects fs into a TaskSnapshot at checkpoint. For checkpoint
// "preflight", selectedHuntIDs must carry exactly four ids (the trainer's
// current selection); for "final" the four ids are instead derived from
// fs.Reviews (every numeric key), and selectedHuntIDs is ignored.
func Build(fs *session.FullState, checkpoint domain.Checkpoint, selectedHuntIDs []int) (domain.TaskSnapshot, error) {
	prompt, reference := currentTurn(fs.Notebook)

	ids, err := resolveSelectedIDs(fs, checkpoint, selectedHuntIDs)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}

	byID := make(map[int]domain.HuntResult, len(fs.Results))
	for _, r := range fs.Results {
		byID[r.HuntID] = r
	}

	snap := domain.TaskSnapshot{
		Checkpoint: checkpoint,
		SessionID:  fs.SessionID,
		Prompt:     prompt,
		Reference:  reference,
		Criteria:   extractCriteria(reference),
		Metadata:   extractMetadata(fs, fs.Notebook.CurrentIdx),
	}

	for _, hid := range ids {
		hr, ok := byID[hid]
		if !ok {
			continue
		}
		snap.SelectedHunts = append(snap.SelectedHunts, domain.SelectedHunt{
			HuntID:       hr.HuntID,
			Model:        hr.Model,
			Response:     hr.Response,
			JudgeScore:   hr.JudgeScore,
			JudgeExplain: hr.JudgeExplain,
			IsBreaking:   hr.IsBreaking,
		})
	}

	if checkpoint == domain.CheckpointFinal {
		for _, hid := range ids {
			slot, ok := fs.Reviews[strconv.Itoa(hid)]
			if !ok {
				continue
			}
			snap.HumanReviews = append(snap.HumanReviews, domain.HumanReview{
				HuntID:      hid,
				Grades:      slot.Grades,
				Explanation: slot.Explanation,
				Submitted:   slot.Submitted,
			})
		}
	}

	return snap, nil
}

func currentTurn(nb domain.Notebook) (prompt, reference string) {
	if nb.CurrentIdx >= 0 && nb.CurrentIdx < len(nb.Turns) {
		t := nb.Turns[nb.CurrentIdx]
		return t.Prompt, t.Reference
	}
	if len(nb.Turns) > 0 {
		return nb.Turns[0].Prompt, nb.Turns[0].Reference
	}
	return "", ""
}

func resolveSelectedIDs(fs *session.FullState, checkpoint domain.Checkpoint, selectedHuntIDs []int) ([]int, error) {
	if checkpoint == domain.CheckpointPreflight {
		if len(selectedHuntIDs) != 4 {
			return nil, ErrWrongSelectionCount
		}
		return append([]int(nil), selectedHuntIDs...), nil
	}

	var ids []int
	for k := range fs.Reviews {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	if len(ids) != 4 {
		return nil, fmt.Errorf("%w: final checkpoint has %d human reviews", ErrWrongSelectionCount, len(ids))
	}
	return ids, nil
}

// extractCriteria pulls grading criteria out of the reference text: first a
// JSON array of objects carrying an "id" and a "criteria*"-prefixed
// description key, falling back to plain "C1: description" lines.
func extractCriteria(reference string) []domain.Criterion {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil
	}

	if m := criteriaArrayRe.FindString(reference); m != "" {
		var items []map[string]interface{}
		if err := json.Unmarshal([]byte(m), &items); err == nil {
			var out []domain.Criterion
			for i, item := range items {
				id := fmt.Sprintf("C%d", i+1)
				if v, ok := item["id"]; ok {
					id = fmt.Sprint(v)
				}
				var criteriaKeys []string
				for k := range item {
					if k != "id" && strings.HasPrefix(k, "criteria") {
						criteriaKeys = append(criteriaKeys, k)
					}
				}
				sort.Strings(criteriaKeys)
				desc := ""
				if len(criteriaKeys) > 0 {
					desc = fmt.Sprint(item[criteriaKeys[0]])
				}
				if desc != "" {
					out = append(out, domain.Criterion{ID: strings.ToUpper(id), Description: desc})
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	matches := criteriaLineRe.FindAllStringSubmatch(reference, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]domain.Criterion, 0, len(matches))
	for _, m := range matches {
		out = append(out, domain.Criterion{ID: strings.ToUpper(m[1]), Description: strings.TrimSpace(m[2])})
	}
	return out
}

func extractMetadata(fs *session.FullState, currentIdx int) map[string]string {
	out := make(map[string]string, len(metadataAliases)+2)
	for field, aliases := range metadataAliases {
		for _, alias := range aliases {
			if v, ok := fs.Notebook.Metadata[alias]; ok && strings.TrimSpace(v) != "" {
				out[field] = strings.TrimSpace(v)
				break
			}
		}
	}
	out["turn"] = strconv.Itoa(currentIdx + 1)
	out["models_used"] = strings.Join(fs.Config.Models, ",")
	return out
}
