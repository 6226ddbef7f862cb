package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 14400, cfg.Session.TTLSeconds)
	assert.Equal(t, 24, cfg.Idempotency.TTLHours)
	assert.Equal(t, 30, cfg.Presence.TTLSeconds)
	assert.Equal(t, 4, cfg.BulkActions.MaxBatchSize)
	assert.Equal(t, 3, cfg.Review.MaxRounds)
	assert.Equal(t, 3, cfg.Resilience.RetryAttempts)
}

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 14400, cfg.Session.TTLSeconds)
}

func TestLoad_ValidConfig_OverridesDefaults(t *testing.T) {
	content := `
session:
  ttl_seconds: 7200
bulk_actions:
  max_batch_size: 6
agentic:
  rules:
    - id: model_consistency
      checkpoints: [preflight]
      enabled: true
      severity: error
  council:
    models:
      - id: "openai/gpt-4o"
        enabled: true
    consensus: majority
teams:
  pods:
    pod-a:
      reviewer:
        email: rev@example.com
      trainers: ["t1@example.com", "t2@example.com"]
`
	path := writeTemp(t, content)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7200, cfg.Session.TTLSeconds)
	assert.Equal(t, 6, cfg.BulkActions.MaxBatchSize)
	require.Len(t, cfg.Agentic.Rules, 1)
	assert.Equal(t, "model_consistency", cfg.Agentic.Rules[0].ID)
	assert.Equal(t, "majority", cfg.Agentic.Council.Consensus)
	pod := cfg.Teams.Pods["pod-a"]
	assert.Equal(t, "rev@example.com", pod.Reviewer.Email)
	assert.Len(t, pod.Trainers, 2)
}

func TestLoad_RuleMissingID_ReturnsError(t *testing.T) {
	content := `
agentic:
  rules:
    - checkpoints: [final]
      enabled: true
`
	path := writeTemp(t, content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTemp(t, "{{not yaml")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ZeroMaxBatchSize_ReturnsError(t *testing.T) {
	content := `
bulk_actions:
  max_batch_size: 0
`
	path := writeTemp(t, content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolvePath_EnvVar_TakesPriority(t *testing.T) {
	tmp := writeTemp(t, "session:\n  ttl_seconds: 100")
	t.Setenv("REVIEW_CONFIG", tmp)

	path := ResolvePath()
	assert.Equal(t, tmp, path)
}

func TestResolvePath_NoEnvVar_FallsBackToDefault(t *testing.T) {
	t.Setenv("REVIEW_CONFIG", "")

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "review.yaml")
	os.WriteFile(yamlPath, []byte("session:\n  ttl_seconds: 100"), 0o644)

	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	path := ResolvePath()
	assert.Equal(t, "review.yaml", path)
}

func TestResolvePath_NoEnvVar_NoFile_ReturnsEmpty(t *testing.T) {
	t.Setenv("REVIEW_CONFIG", "")

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	path := ResolvePath()
	assert.Equal(t, "", path)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	f.Close()
	return f.Name()
}
