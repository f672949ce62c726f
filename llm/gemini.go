package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"go.aimuz.me/parley/internal/types"
)

// geminiCompleter implements Completer on the Gemini generateContent API.
type geminiCompleter struct {
	cfg    completerConfig
	models *genai.Models
}

func newGeminiCompleter(ctx context.Context, cfg completerConfig) (*geminiCompleter, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiCompleter{cfg: cfg, models: client.Models}, nil
}

// buildRequest converts messages into genai contents and generation config.
func (c *geminiCompleter) buildRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.cfg.maxTokens),
		Temperature:     genai.Ptr(float32(c.cfg.temperature)),
	}
	if c.cfg.disableThinking {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)}
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(strings.TrimSpace(system), genai.RoleUser)
	}
	return contents, gc
}

func (c *geminiCompleter) Complete(ctx context.Context, messages []Message) (string, types.Usage, error) {
	contents, gc := c.buildRequest(messages)

	resp, err := c.models.GenerateContent(ctx, c.cfg.model, contents, gc)
	if err != nil {
		return "", types.Usage{}, fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", types.Usage{}, ErrNoCandidates
	}
	return text, geminiToUsage(resp.UsageMetadata), nil
}

// geminiToUsage converts Gemini usage metadata to types.Usage.
func geminiToUsage(u *genai.GenerateContentResponseUsageMetadata) types.Usage {
	if u == nil {
		return types.Usage{}
	}
	return types.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}
