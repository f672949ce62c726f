package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.aimuz.me/parley/cache"
	"go.aimuz.me/parley/config"
	"go.aimuz.me/parley/internal/types"
	"go.aimuz.me/parley/livetranslate"
	"go.aimuz.me/parley/llm"
)

// connectionErrorText is the model record appended when typed text cannot be
// translated.
const connectionErrorText = "connection error"

const defaultSystemPrompt = "You are a professional interpreter. Translate the user's text directly. " +
	"Output only the translation, with no quotes, labels or explanations."

// Translator encapsulates translation logic with caching.
// Zero value is not useful; create via NewTranslator.
type Translator struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewTranslator creates a Translator. A nil cache disables caching.
func NewTranslator(c *cache.Cache, ttl time.Duration) *Translator {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Translator{cache: c, ttl: ttl}
}

// TranslateProfile holds the minimal config needed for translation.
type TranslateProfile struct {
	Name         string
	Model        string
	SystemPrompt string
}

// Translate performs translation using the given completer, with cache lookup.
func (t *Translator) Translate(ctx context.Context, completer llm.Completer, profile TranslateProfile, req types.TranslateRequest) (types.TranslateResult, error) {
	key := t.cacheKey(profile, req)

	if result, ok := t.getCached(key); ok {
		return result, nil
	}

	msgs := buildTranslateMessages(profile.SystemPrompt, req)

	text, usage, err := completer.Complete(ctx, msgs)
	if err != nil {
		return types.TranslateResult{}, fmt.Errorf("translate: %w", err)
	}
	text = strings.TrimSpace(text)

	t.setCache(key, text, usage)

	return types.TranslateResult{Text: text, Usage: usage}, nil
}

func buildTranslateMessages(systemPrompt string, req types.TranslateRequest) []llm.Message {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	content := fmt.Sprintf(
		"please translate the following text from %s to %s:\n\n%s",
		livetranslate.LanguageName(req.SourceLang), livetranslate.LanguageName(req.TargetLang), req.Text,
	)
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: content},
	}
}

func (t *Translator) cacheKey(p TranslateProfile, req types.TranslateRequest) string {
	return cache.GenerateKey(p.Name, p.Model, req.SourceLang, req.TargetLang, req.Text)
}

func (t *Translator) getCached(key string) (types.TranslateResult, bool) {
	if t.cache == nil {
		return types.TranslateResult{}, false
	}

	entry, found := t.cache.Get(key)
	if !found {
		return types.TranslateResult{}, false
	}

	return types.TranslateResult{
		Text: entry.Text,
		Usage: types.Usage{
			PromptTokens:     entry.Usage.PromptTokens,
			CompletionTokens: entry.Usage.CompletionTokens,
			TotalTokens:      entry.Usage.TotalTokens,
			CacheHit:         true,
		},
	}, true
}

func (t *Translator) setCache(key, text string, usage types.Usage) {
	if t.cache == nil || text == "" {
		return
	}

	entry := &cache.Entry{
		Text: text,
		Usage: cache.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}

	if err := t.cache.Set(key, entry, t.ttl); err != nil {
		slog.Debug("cache set failed", "error", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Typed entry
// ─────────────────────────────────────────────────────────────────────────────

// SubmitText translates typed text within the language pair and appends the
// user and model records to the conversation. Typed records bypass the noise
// filter. A failed translation appends a "connection error" model record and
// returns the error.
func (s *Service) SubmitText(ctx context.Context, text string) (types.TranslateResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.TranslateResult{}, fmt.Errorf("empty text")
	}

	dir := s.cfg.Languages.Forward()
	if s.detector != nil {
		dir = s.detector.Direction(s.cfg.Languages, text)
	}

	conv := s.live.Conversation()
	conv.AppendManual(types.SenderUser, text)

	result, err := s.translate(ctx, types.TranslateRequest{
		Text:       text,
		SourceLang: dir.Source,
		TargetLang: dir.Target,
	})
	if err != nil || result.Text == "" {
		if err == nil {
			err = fmt.Errorf("translate: empty result")
		}
		slog.Warn("typed translation failed", "direction", dir, "error", err)
		conv.AppendManual(types.SenderModel, connectionErrorText)
		return types.TranslateResult{}, err
	}

	conv.AppendManual(types.SenderModel, result.Text)
	slog.Debug("typed translation", "direction", dir, "cache_hit", result.Usage.CacheHit)
	return result, nil
}

func (s *Service) translate(ctx context.Context, req types.TranslateRequest) (types.TranslateResult, error) {
	completer, err := s.textCompleter(ctx)
	if err != nil {
		return types.TranslateResult{}, err
	}
	p := s.cfg.Active()
	return s.translator.Translate(ctx, completer, TranslateProfile{
		Name:  s.cfg.Provider,
		Model: p.TextModel,
	}, req)
}

// textCompleter builds the completer on first use so a missing API key only
// fails typed entries.
func (s *Service) textCompleter(ctx context.Context) (llm.Completer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completer != nil {
		return s.completer, nil
	}
	p := s.cfg.Active()
	c, err := llm.NewCompleter(ctx, s.cfg.Provider, p.APIKey, p.TextModel, llm.Options{
		MaxTokens:       p.MaxTokens,
		Temperature:     p.Temperature,
		DisableThinking: s.cfg.Provider == config.ProviderGemini,
		BaseURL:         p.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create completer: %w", err)
	}
	s.completer = c
	return c, nil
}
