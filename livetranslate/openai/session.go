package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/realtime"
)

const (
	// RealtimeEndpoint is the endpoint for WebRTC SDP exchange.
	RealtimeEndpoint = "https://api.openai.com/v1/realtime/calls"
)

// SessionToken holds the ephemeral key from CreateSession.
type SessionToken struct {
	Value     string
	ExpiresAt int64
}

// httpClient is a package-level client with connection reuse.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// SessionConfig holds configuration for creating a realtime session.
type SessionConfig struct {
	Model        string // Realtime model, e.g. "gpt-realtime"
	Instructions string
}

// CreateSession creates a new ephemeral WebRTC session token.
func CreateSession(ctx context.Context, apiKey string, cfg SessionConfig) (*SessionToken, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	session := &realtime.RealtimeSessionCreateRequestParam{
		Model: realtime.RealtimeSessionCreateRequestModel(model),
	}
	if cfg.Instructions != "" {
		session.Instructions = openai.String(cfg.Instructions)
	}

	resp, err := client.Realtime.ClientSecrets.New(ctx, realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{OfRealtime: session},
	})
	if err != nil {
		return nil, fmt.Errorf("create client secret: %w", err)
	}

	return &SessionToken{
		Value:     resp.Value,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// ExchangeSDP sends the local SDP offer to OpenAI and receives the SDP answer.
func ExchangeSDP(ctx context.Context, offer, ephemeralKey string) (string, error) {
	return exchangeSDP(ctx, RealtimeEndpoint, offer, ephemeralKey)
}

func exchangeSDP(ctx context.Context, endpoint, offer, ephemeralKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("SDP exchange failed", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	return string(body), nil
}
