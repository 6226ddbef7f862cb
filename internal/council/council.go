// Package council runs a configured set of judge models against a single
// pass/fail prompt and aggregates their verdicts — majority, unanimity, or
// chairman synthesis — for the subjective rule handlers in internal/rules.
package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/llm"
	"github.com/reviewlane/reviewer/internal/ratelimit"
)

// chairmanReasoningMax truncates each model's reasoning before it's folded
// into the chairman synthesis prompt, so N models' worth of reasoning can't
// blow up the chairman's context.
const chairmanReasoningMax = 800

const defaultMaxTokens = 512
const chairmanMaxTokens = 1024

// Caller is the transport used to reach judge models — satisfied by
// *llm.Client, swappable in tests.
type Caller interface {
	Call(ctx context.Context, prompt, model string, maxTokens int) (string, error)
	CallStreaming(ctx context.Context, prompt, model string, maxTokens int, onChunk func(string)) (string, error)
}

// Service runs councils against a configured model list and consensus policy.
type Service struct {
	caller  Caller
	limiter *ratelimit.ProviderLimiter
	logger  *slog.Logger
}

// New constructs a council Service.
func New(caller Caller, limiter *ratelimit.ProviderLimiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{caller: caller, limiter: limiter, logger: logger}
}

func enabledModels(cfg config.CouncilConfig) []string {
	var out []string
	for _, m := range cfg.Models {
		if m.Enabled {
			out = append(out, m.ID)
		}
	}
	return out
}

// Run executes the council for one rule's prompt against cfg's model list,
// aggregating by cfg.Consensus ("majority" default, "unanimity", or
// "chairman"). An empty enabled-model list is treated as an automatic pass
// — a council with nothing configured to run can't block a reviewer.
func (s *Service) Run(ctx context.Context, cfg config.CouncilConfig, prompt, ruleID string) (domain.CouncilResult, error) {
	models := enabledModels(cfg)
	if len(models) == 0 {
		s.logger.Warn("council has no enabled models, treating as pass", "rule_id", ruleID)
		return domain.CouncilResult{Consensus: "pass", Method: cfg.Consensus}, nil
	}

	verdicts := make([]domain.CouncilVerdict, 0, len(models))
	for _, model := range models {
		text, err := s.callGated(ctx, model, prompt, defaultMaxTokens)
		if err != nil {
			s.logger.Warn("council model call failed", "rule_id", ruleID, "model", model, "error", err)
			verdicts = append(verdicts, domain.CouncilVerdict{Model: model, Verdict: "unclear", Err: err.Error()})
			continue
		}
		vote := llm.ParsePassFail(text)
		verdicts = append(verdicts, domain.CouncilVerdict{Model: model, Verdict: verdictLabel(vote), RawText: text})
	}

	method := cfg.Consensus
	if method == "" {
		method = "majority"
	}

	if method == "chairman" && cfg.ChairmanModel != "" {
		return s.resolveChairman(ctx, cfg, prompt, ruleID, verdicts, method)
	}

	consensus := aggregate(verdicts, method)
	return domain.CouncilResult{Verdicts: verdicts, Consensus: consensus, Method: method}, nil
}

func (s *Service) resolveChairman(ctx context.Context, cfg config.CouncilConfig, prompt, ruleID string, verdicts []domain.CouncilVerdict, method string) (domain.CouncilResult, error) {
	chairmanPrompt := buildChairmanPrompt(prompt, verdicts)
	text, err := s.callGated(ctx, cfg.ChairmanModel, chairmanPrompt, chairmanMaxTokens)
	if err != nil {
		s.logger.Warn("council chairman call failed, falling back to majority", "rule_id", ruleID, "model", cfg.ChairmanModel, "error", err)
		return domain.CouncilResult{Verdicts: verdicts, Consensus: aggregate(verdicts, "majority"), Method: method}, nil
	}
	vote := llm.ParsePassFail(text)
	consensus := "fail"
	if vote != nil && *vote {
		consensus = "pass"
	}
	return domain.CouncilResult{
		Verdicts:        verdicts,
		Consensus:       consensus,
		Method:          method,
		ChairmanVerdict: consensus,
		ChairmanText:    text,
	}, nil
}

func (s *Service) callGated(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if s.limiter != nil {
		release, err := s.limiter.Acquire(ctx, model)
		if err != nil {
			return "", err
		}
		defer release()
	}
	return s.caller.Call(ctx, prompt, model, maxTokens)
}

func verdictLabel(v *bool) string {
	if v == nil {
		return "unclear"
	}
	if *v {
		return "pass"
	}
	return "fail"
}

// aggregate applies the consensus policy over already-parsed verdicts.
// "unanimity" requires every model to pass with no unclear votes;
// otherwise (including the "majority" default) passing requires strictly
// more passes than fails, and unclear votes count for neither side.
func aggregate(verdicts []domain.CouncilVerdict, method string) string {
	pass, fail, unclear := 0, 0, 0
	for _, v := range verdicts {
		switch v.Verdict {
		case "pass":
			pass++
		case "fail":
			fail++
		default:
			unclear++
		}
	}
	var passed bool
	if method == "unanimity" {
		passed = unclear == 0 && fail == 0 && pass == len(verdicts)
	} else {
		passed = pass > fail
	}
	if passed {
		return "pass"
	}
	return "fail"
}

func buildChairmanPrompt(original string, verdicts []domain.CouncilVerdict) string {
	var b strings.Builder
	b.WriteString("You are the chairman. The following question was evaluated by a council of models. Here are their votes and reasoning.\n\n")
	b.WriteString("QUESTION:\n")
	b.WriteString(truncate(original, 3000))
	b.WriteString("\n\nCOUNCIL VOTES AND REASONING:\n")
	for _, v := range verdicts {
		reasoning := strings.TrimSpace(v.RawText)
		reasoning = truncate(reasoning, chairmanReasoningMax)
		fmt.Fprintf(&b, "--- Model: %s ---\nVote: %s\nReasoning: %s\n\n", v.Model, strings.ToUpper(v.Verdict), reasoning)
	}
	b.WriteString("Synthesize the above and decide the final outcome. Output your brief reasoning, then on a new line exactly: PASS or FAIL.\n")
	b.WriteString("Your final line must be only PASS or FAIL.")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
