// Package types provides shared type definitions for the application.
package types

import (
	"fmt"
	"strings"
)

// DefaultMaxTokens is the default max tokens if not specified.
const DefaultMaxTokens = 1000

// DefaultTemperature is the default temperature if not specified.
const DefaultTemperature = 0.3

// TranslateRequest represents a one-shot text translation request.
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

// Usage represents token usage statistics from LLM API calls.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	CacheHit         bool `json:"cacheHit"`
}

// TranslateResult represents the result of a translation request.
type TranslateResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Live Translation Types
// ─────────────────────────────────────────────────────────────────────────────

// Direction is a source→target language pair for one live session.
type Direction struct {
	Source string `json:"source"` // ISO-639-1 code
	Target string `json:"target"` // ISO-639-1 code
}

// String renders the direction as "en-ru".
func (d Direction) String() string {
	return d.Source + "-" + d.Target
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return Direction{Source: d.Target, Target: d.Source}
}

// ParseDirection parses the "en-ru" form produced by String.
func ParseDirection(s string) (Direction, error) {
	src, dst, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || src == "" || dst == "" {
		return Direction{}, fmt.Errorf("invalid direction %q", s)
	}
	return Direction{Source: strings.ToLower(src), Target: strings.ToLower(dst)}, nil
}

// LanguagePair is the one configured pair. It allows exactly two directions.
type LanguagePair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// Forward is A→B.
func (p LanguagePair) Forward() Direction { return Direction{Source: p.A, Target: p.B} }

// Backward is B→A.
func (p LanguagePair) Backward() Direction { return Direction{Source: p.B, Target: p.A} }

// Allows reports whether d is one of the pair's two directions.
func (p LanguagePair) Allows(d Direction) bool {
	return d == p.Forward() || d == p.Backward()
}

// Status is the live session state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
)

// Sender identifies who a message record belongs to.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderModel Sender = "model"
)

// MessageRecord is one finalized entry of the conversation log.
// It is never mutated after creation.
type MessageRecord struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp in milliseconds
}

// LiveTranscript is the in-progress (not yet finalized) transcript pair.
type LiveTranscript struct {
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
}

// LiveStatus is a snapshot of the live session for the UI.
type LiveStatus struct {
	Status     Status    `json:"status"`
	Direction  Direction `json:"direction"`
	Provider   string    `json:"provider"`
	Duration   int64     `json:"duration"` // Running duration in seconds
	Volume     float64   `json:"volume"`
	MessageCnt int       `json:"messageCount"`
}
