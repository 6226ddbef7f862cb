// Package config handles loading and validating review.yaml, the
// reviewer service's single configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reviewlane/reviewer/internal/domain"
)

// Config is the top-level review.yaml configuration.
type Config struct {
	Session      SessionConfig      `yaml:"session"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Presence     PresenceConfig     `yaml:"presence"`
	BulkActions  BulkActionsConfig  `yaml:"bulk_actions"`
	Review       ReviewConfig       `yaml:"review"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Agentic      AgenticConfig      `yaml:"agentic"`
	TaskIdentity TaskIdentityConfig `yaml:"task_identity"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	LLM          LLMConfig          `yaml:"llm"`
	Teams        TeamsConfig        `yaml:"teams"`
}

type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type IdempotencyConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

type PresenceConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type BulkActionsConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

type ReviewConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

type ResilienceConfig struct {
	RetryAttempts      int     `yaml:"retry_attempts"`
	RetryBaseDelay     float64 `yaml:"retry_base_delay"`
	RetryMaxDelay      float64 `yaml:"retry_max_delay"`
	RetryBackoffFactor float64 `yaml:"retry_backoff_factor"`
}

// AgenticConfig holds the rule engine and LLM council configuration block.
type AgenticConfig struct {
	Rules   []RuleConfig  `yaml:"rules"`
	Council CouncilConfig `yaml:"council"`
}

// RuleConfig is one declarative rule entry in agentic.rules.
type RuleConfig struct {
	ID          string                 `yaml:"id"`
	Checkpoints []string               `yaml:"checkpoints"`
	Enabled     bool                   `yaml:"enabled"`
	Severity    string                 `yaml:"severity"`
	Params      map[string]interface{} `yaml:"params"`
}

// CouncilConfig is the agentic.council configuration block.
type CouncilConfig struct {
	Models        []CouncilModel `yaml:"models"`
	Consensus     string         `yaml:"consensus"` // majority | unanimity | chairman
	ChairmanModel string         `yaml:"chairman_model"`
}

type CouncilModel struct {
	ID      string `yaml:"id"`
	Enabled bool   `yaml:"enabled"`
}

// TaskIdentityConfig names the notebook metadata field (and fallbacks) used
// to render a human-readable task identifier in the UI and notifications.
type TaskIdentityConfig struct {
	DisplayIDField  string   `yaml:"display_id_field"`
	DisplayIDLabel  string   `yaml:"display_id_label"`
	FallbackFields  []string `yaml:"fallback_fields"`
}

// RedisConfig configures the keyed-store backend.
type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	DialTimeoutMS    int    `yaml:"dial_timeout_ms"`
	ReadTimeoutMS    int    `yaml:"read_timeout_ms"`
	BlockReadTimeout int    `yaml:"block_read_timeout_seconds"`
}

// StorageConfig configures the MinIO/S3 archive bucket.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LLMConfig configures the default council transport.
type LLMConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	ConnectTimeoutMS  int    `yaml:"connect_timeout_ms"`
	ReadTimeoutMS     int    `yaml:"read_timeout_ms"`
	ProviderConcurrency int  `yaml:"provider_concurrency"`
}

// TeamsConfig is the role/pod directory, grounded in team_config.py's
// team.yaml shape.
type TeamsConfig struct {
	SuperAdmins []TeamMember `yaml:"super_admins"`
	Admins      []AdminEntry `yaml:"admins"`
	Pods        map[string]PodConfig `yaml:"pods"`
}

type TeamMember struct {
	Email string `yaml:"email"`
}

type AdminEntry struct {
	Email string   `yaml:"email"`
	Pods  []string `yaml:"pods"`
}

type PodConfig struct {
	Reviewer TeamMember `yaml:"reviewer"`
	Trainers []string   `yaml:"trainers"`
}

// DefaultConfig returns the service's built-in defaults — used when no
// review.yaml is present, matching spec.md §6's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Session:     SessionConfig{TTLSeconds: 14400},
		Idempotency: IdempotencyConfig{TTLHours: 24},
		Presence:    PresenceConfig{TTLSeconds: 30},
		BulkActions: BulkActionsConfig{MaxBatchSize: 4},
		Review:      ReviewConfig{MaxRounds: 3},
		Resilience: ResilienceConfig{
			RetryAttempts:      3,
			RetryBaseDelay:     1,
			RetryMaxDelay:      30,
			RetryBackoffFactor: 2,
		},
		TaskIdentity: TaskIdentityConfig{
			DisplayIDField: "Task ID",
			DisplayIDLabel: "Task ID",
			FallbackFields: []string{"TaskID", "task_id"},
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			DialTimeoutMS:    5000,
			ReadTimeoutMS:    5000,
			BlockReadTimeout: 30,
		},
		LLM: LLMConfig{
			ConnectTimeoutMS:    5000,
			ReadTimeoutMS:       120000,
			ProviderConcurrency: 8,
		},
	}
}

// Load parses a review.yaml file and validates it.
// If path is empty, returns built-in defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: REVIEW_CONFIG env var > ./review.yaml > "" (defaults only).
func ResolvePath() string {
	if p := os.Getenv("REVIEW_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("review.yaml"); err == nil {
		return "review.yaml"
	}
	return ""
}

// SessionTTL returns the configured session TTL as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// IdempotencyTTL returns the configured idempotency-key TTL.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Idempotency.TTLHours) * time.Hour
}

// PresenceTTL returns the configured presence-entry TTL.
func (c *Config) PresenceTTL() time.Duration {
	return time.Duration(c.Presence.TTLSeconds) * time.Second
}

// RuleDefinitions converts the configured agentic.rules block into the
// domain.RuleDefinition table the rule engine runs against.
func (c *Config) RuleDefinitions() []domain.RuleDefinition {
	defs := make([]domain.RuleDefinition, 0, len(c.Agentic.Rules))
	for _, rc := range c.Agentic.Rules {
		checkpoints := make([]domain.Checkpoint, 0, len(rc.Checkpoints))
		for _, cp := range rc.Checkpoints {
			checkpoints = append(checkpoints, domain.Checkpoint(cp))
		}
		severity := domain.IssueSeverity(rc.Severity)
		if severity == "" {
			severity = domain.SeverityError
		}
		defs = append(defs, domain.RuleDefinition{
			ID:          rc.ID,
			Checkpoints: checkpoints,
			Enabled:     rc.Enabled,
			Severity:    severity,
			Params:      rc.Params,
		})
	}
	return defs
}

func (c *Config) validate() error {
	if c.BulkActions.MaxBatchSize <= 0 {
		return fmt.Errorf("bulk_actions.max_batch_size must be positive")
	}
	if c.Review.MaxRounds <= 0 {
		return fmt.Errorf("review.max_rounds must be positive")
	}
	for _, r := range c.Agentic.Rules {
		if r.ID == "" {
			return fmt.Errorf("agentic.rules: entry missing id")
		}
	}
	return nil
}
