// Package llm provides the default transport for council judge calls: a thin
// wrapper over an OpenAI-compatible chat completions API, pointed at an
// OpenRouter-compatible BaseURL so the same client serves any OpenRouter
// model id without a provider-specific SDK per vendor.
package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reviewlane/reviewer/internal/config"
)

// ErrEmptyResponse is returned when a model call succeeds but returns no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Client calls chat-completion models through an OpenAI-compatible endpoint.
type Client struct {
	oa *openai.Client
}

// New constructs a Client from the llm configuration block. BaseURL, when
// set, is used verbatim (e.g. "https://openrouter.ai/api/v1") so the same
// client works against OpenAI or an OpenRouter-compatible gateway.
func New(cfg config.LLMConfig) *Client {
	occfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occfg.BaseURL = cfg.BaseURL
	}
	readTimeout := time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = 120 * time.Second
	}
	occfg.HTTPClient = &http.Client{Timeout: readTimeout}
	return &Client{oa: openai.NewClientWithConfig(occfg)}
}

// Call sends prompt to model at temperature 0 (deterministic pass/fail
// judging) and returns the trimmed response text.
func (c *Client) Call(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	resp, err := c.oa.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CallStreaming sends prompt to model with streaming enabled, invoking
// onChunk for each delta as it arrives, and returns the full accumulated text.
func (c *Client) CallStreaming(ctx context.Context, prompt, model string, maxTokens int, onChunk func(string)) (string, error) {
	stream, err := c.oa.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	return full.String(), nil
}
