package council

import (
	"context"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/llm"
)

// EventType tags one entry in a council streaming run.
type EventType string

const (
	EventPrompt          EventType = "prompt"
	EventModelStart      EventType = "model_start"
	EventModelChunk      EventType = "model_chunk"
	EventModelVerdict    EventType = "model_verdict"
	EventChairmanStart   EventType = "chairman_start"
	EventChairmanVerdict EventType = "chairman_verdict"
	EventComplete        EventType = "complete"
)

// Event is one tagged entry in a council streaming run, suitable for
// forwarding directly as an SSE frame.
type Event struct {
	Type    EventType             `json:"type"`
	Model   string                `json:"model,omitempty"`
	Chunk   string                `json:"chunk,omitempty"`
	Verdict string                `json:"verdict,omitempty"`
	Text    string                `json:"text,omitempty"`
	Passed  bool                  `json:"passed,omitempty"`
	Result  *domain.CouncilResult `json:"result,omitempty"`
}

// RunStreaming runs the same council as Run but emits one Event per
// milestone (prompt, each model's start/chunks/verdict, optionally the
// chairman's start/verdict, then a final complete) so a caller can forward
// live progress to a UI. The returned channel is closed once the run
// completes or ctx is cancelled.
func (s *Service) RunStreaming(ctx context.Context, cfg config.CouncilConfig, prompt, ruleID string) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		s.runStreaming(ctx, cfg, prompt, ruleID, out)
	}()
	return out
}

func (s *Service) runStreaming(ctx context.Context, cfg config.CouncilConfig, prompt, ruleID string, out chan<- Event) {
	models := enabledModels(cfg)
	if len(models) == 0 {
		s.logger.Warn("council has no enabled models, treating as pass", "rule_id", ruleID)
		send(ctx, out, Event{Type: EventComplete, Passed: true, Result: &domain.CouncilResult{Consensus: "pass", Method: cfg.Consensus}})
		return
	}

	if !send(ctx, out, Event{Type: EventPrompt, Text: prompt}) {
		return
	}

	verdicts := make([]domain.CouncilVerdict, 0, len(models))
	for _, model := range models {
		if !send(ctx, out, Event{Type: EventModelStart, Model: model}) {
			return
		}
		text, err := s.callGatedStreaming(ctx, model, prompt, defaultMaxTokens, func(chunk string) {
			send(ctx, out, Event{Type: EventModelChunk, Model: model, Chunk: chunk})
		})
		if err != nil {
			s.logger.Warn("council model call failed", "rule_id", ruleID, "model", model, "error", err)
			verdicts = append(verdicts, domain.CouncilVerdict{Model: model, Verdict: "unclear", Err: err.Error()})
			send(ctx, out, Event{Type: EventModelVerdict, Model: model, Verdict: "unclear"})
			continue
		}
		vote := llm.ParsePassFail(text)
		verdict := verdictLabel(vote)
		verdicts = append(verdicts, domain.CouncilVerdict{Model: model, Verdict: verdict, RawText: text})
		if !send(ctx, out, Event{Type: EventModelVerdict, Model: model, Verdict: verdict, Text: text}) {
			return
		}
	}

	method := cfg.Consensus
	if method == "" {
		method = "majority"
	}

	if method == "chairman" && cfg.ChairmanModel != "" {
		if !send(ctx, out, Event{Type: EventChairmanStart, Model: cfg.ChairmanModel}) {
			return
		}
		result, _ := s.resolveChairman(ctx, cfg, prompt, ruleID, verdicts, method)
		send(ctx, out, Event{Type: EventChairmanVerdict, Verdict: result.ChairmanVerdict, Text: result.ChairmanText})
		send(ctx, out, Event{Type: EventComplete, Passed: result.Consensus == "pass", Result: &result})
		return
	}

	consensus := aggregate(verdicts, method)
	result := domain.CouncilResult{Verdicts: verdicts, Consensus: consensus, Method: method}
	send(ctx, out, Event{Type: EventComplete, Passed: consensus == "pass", Result: &result})
}

func (s *Service) callGatedStreaming(ctx context.Context, model, prompt string, maxTokens int, onChunk func(string)) (string, error) {
	if s.limiter != nil {
		release, err := s.limiter.Acquire(ctx, model)
		if err != nil {
			return "", err
		}
		defer release()
	}
	return s.caller.CallStreaming(ctx, prompt, model, maxTokens, onChunk)
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
