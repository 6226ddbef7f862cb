package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/snapshot"
)

func fullState() *session.FullState {
	return &session.FullState{
		SessionID: "sess-1",
		Config:    domain.Config{Models: []string{"gpt-4o", "claude"}},
		Notebook: domain.Notebook{
			Turns: []domain.Turn{{
				Prompt:    "What is the capital of France?",
				Reference: `C1: must name Paris\nC2: must be concise`,
			}},
			Metadata: map[string]string{"Domain": "Geography", "Use Case": "QA"},
		},
		Results: []domain.HuntResult{
			{HuntID: 1, Model: "gpt-4o", Response: "Paris"},
			{HuntID: 2, Model: "gpt-4o", Response: "Paris, France"},
			{HuntID: 3, Model: "claude", Response: "Paris"},
			{HuntID: 4, Model: "claude", Response: "The capital is Paris"},
		},
		Reviews: map[string]domain.ReviewSlot{
			"1": {HuntID: 1, Submitted: true, Grades: map[string]string{"C1": "pass"}},
			"2": {HuntID: 2, Submitted: true, Grades: map[string]string{"C1": "pass"}},
			"3": {HuntID: 3, Submitted: true, Grades: map[string]string{"C1": "pass"}},
			"4": {HuntID: 4, Submitted: true, Grades: map[string]string{"C1": "pass"}},
		},
	}
}

func TestBuild_Preflight_UsesCallerSuppliedSelection(t *testing.T) {
	fs := fullState()
	snap, err := snapshot.Build(fs, domain.CheckpointPreflight, []int{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointPreflight, snap.Checkpoint)
	assert.Len(t, snap.SelectedHunts, 4)
	assert.Empty(t, snap.HumanReviews)
	assert.Equal(t, "Geography", snap.Metadata["domain"])
}

func TestBuild_Preflight_RejectsWrongSelectionCount(t *testing.T) {
	fs := fullState()
	_, err := snapshot.Build(fs, domain.CheckpointPreflight, []int{1, 2})
	assert.ErrorIs(t, err, snapshot.ErrWrongSelectionCount)
}

func TestBuild_Final_DerivesSelectionFromReviews(t *testing.T) {
	fs := fullState()
	snap, err := snapshot.Build(fs, domain.CheckpointFinal, nil)
	require.NoError(t, err)
	assert.Len(t, snap.SelectedHunts, 4)
	assert.Len(t, snap.HumanReviews, 4)
}

func TestBuild_Final_RejectsWhenNotExactlyFourReviews(t *testing.T) {
	fs := fullState()
	delete(fs.Reviews, "4")
	_, err := snapshot.Build(fs, domain.CheckpointFinal, nil)
	assert.ErrorIs(t, err, snapshot.ErrWrongSelectionCount)
}

func TestBuild_ExtractsPlainTextCriteria(t *testing.T) {
	fs := fullState()
	fs.Notebook.Turns[0].Reference = "C1: must name Paris\nC2: must be concise"
	snap, err := snapshot.Build(fs, domain.CheckpointPreflight, []int{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, snap.Criteria, 2)
	assert.Equal(t, "C1", snap.Criteria[0].ID)
	assert.Equal(t, "must name Paris", snap.Criteria[0].Description)
}

func TestBuild_ExtractsJSONArrayCriteria(t *testing.T) {
	fs := fullState()
	fs.Notebook.Turns[0].Reference = `Reference text [{"id":"C1","criteria1":"must be accurate"},{"id":"C2","criteria2":"must be concise"}] trailing`
	snap, err := snapshot.Build(fs, domain.CheckpointPreflight, []int{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, snap.Criteria, 2)
	assert.Equal(t, "C1", snap.Criteria[0].ID)
	assert.Equal(t, "must be accurate", snap.Criteria[0].Description)
}
