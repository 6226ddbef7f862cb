package council_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/council"
)

type fakeCaller struct {
	responses map[string]string
	errs      map[string]error
}

func (f *fakeCaller) Call(_ context.Context, _ string, model string, _ int) (string, error) {
	if err, ok := f.errs[model]; ok {
		return "", err
	}
	return f.responses[model], nil
}

func (f *fakeCaller) CallStreaming(ctx context.Context, prompt string, model string, maxTokens int, onChunk func(string)) (string, error) {
	text, err := f.Call(ctx, prompt, model, maxTokens)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(text)
	}
	return text, nil
}

func councilCfg(consensus, chairman string, models ...string) config.CouncilConfig {
	var cm []config.CouncilModel
	for _, m := range models {
		cm = append(cm, config.CouncilModel{ID: m, Enabled: true})
	}
	return config.CouncilConfig{Models: cm, Consensus: consensus, ChairmanModel: chairman}
}

func TestRun_MajorityConsensus_PassesWithMorePassesThanFails(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"model-a": "Looks fine.\nPASS",
		"model-b": "Looks fine.\nPASS",
		"model-c": "Not great.\nFAIL",
	}}
	svc := council.New(caller, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("majority", "", "model-a", "model-b", "model-c"), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Consensus)
	assert.Len(t, res.Verdicts, 3)
}

func TestRun_UnanimityConsensus_FailsOnAnySingleFail(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"model-a": "PASS",
		"model-b": "FAIL",
	}}
	svc := council.New(caller, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("unanimity", "", "model-a", "model-b"), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "fail", res.Consensus)
}

func TestRun_ModelError_RecordedAsUnclearVote(t *testing.T) {
	caller := &fakeCaller{
		responses: map[string]string{"model-a": "PASS"},
		errs:      map[string]error{"model-b": errors.New("timeout")},
	}
	svc := council.New(caller, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("majority", "", "model-a", "model-b"), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Consensus)
	var unclear int
	for _, v := range res.Verdicts {
		if v.Verdict == "unclear" {
			unclear++
		}
	}
	assert.Equal(t, 1, unclear)
}

func TestRun_ChairmanConsensus_UsesChairmanVerdict(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"model-a":  "PASS",
		"model-b":  "FAIL",
		"chairman": "After weighing both, FAIL",
	}}
	svc := council.New(caller, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("chairman", "chairman", "model-a", "model-b"), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "fail", res.Consensus)
	assert.Equal(t, "fail", res.ChairmanVerdict)
}

func TestRun_ChairmanError_FallsBackToMajority(t *testing.T) {
	caller := &fakeCaller{
		responses: map[string]string{"model-a": "PASS", "model-b": "PASS"},
		errs:      map[string]error{"chairman": errors.New("down")},
	}
	svc := council.New(caller, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("chairman", "chairman", "model-a", "model-b"), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Consensus)
	assert.Empty(t, res.ChairmanVerdict)
}

func TestRun_NoEnabledModels_TreatedAsPass(t *testing.T) {
	svc := council.New(&fakeCaller{}, nil, nil)
	res, err := svc.Run(context.Background(), councilCfg("majority", ""), "prompt", "rule")
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Consensus)
	assert.Empty(t, res.Verdicts)
}

func TestRunStreaming_EmitsPromptModelAndCompleteEvents(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{"model-a": "PASS"}}
	svc := council.New(caller, nil, nil)
	events := svc.RunStreaming(context.Background(), councilCfg("majority", "", "model-a"), "prompt", "rule")

	var seen []council.EventType
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	assert.Equal(t, []council.EventType{
		council.EventPrompt,
		council.EventModelStart,
		council.EventModelChunk,
		council.EventModelVerdict,
		council.EventComplete,
	}, seen)
}
