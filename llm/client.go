// Package llm provides completion clients for one-shot text translation.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.aimuz.me/parley/internal/types"
)

var (
	ErrNoAPIKey        = errors.New("llm: API key required")
	ErrNoCandidates    = errors.New("llm: no candidates returned")
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures LLM completion behavior.
type Options struct {
	MaxTokens       int
	Temperature     float64
	DisableThinking bool   // For Gemini: set thinkingBudget to 0
	BaseURL         string // Overrides the provider endpoint
}

// Completer performs chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, types.Usage, error)
}

// completerConfig holds all parameters needed by completers.
type completerConfig struct {
	apiKey          string
	baseURL         string
	model           string
	maxTokens       int
	temperature     float64
	disableThinking bool
}

// NewCompleter creates a Completer for the given provider.
func NewCompleter(ctx context.Context, provider, apiKey, model string, opts Options) (Completer, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = types.DefaultMaxTokens
	}
	cfg := completerConfig{
		apiKey:          apiKey,
		baseURL:         opts.BaseURL,
		model:           model,
		maxTokens:       opts.MaxTokens,
		temperature:     opts.Temperature,
		disableThinking: opts.DisableThinking,
	}

	switch provider {
	case "gemini":
		return newGeminiCompleter(ctx, cfg)
	case "openai", "openai-compatible":
		return newOpenAICompleter(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// splitSystem separates system messages from the conversation turns.
func splitSystem(messages []Message) (system string, turns []Message) {
	for _, msg := range messages {
		if msg.Role == "system" {
			if msg.Content != "" {
				system += msg.Content + "\n"
			}
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}
