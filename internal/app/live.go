package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/parley/config"
	"go.aimuz.me/parley/internal/types"
	"go.aimuz.me/parley/livetranslate"
	"go.aimuz.me/parley/livetranslate/gemini"
	"go.aimuz.me/parley/livetranslate/openai"
)

// Hosts probed before a session starts.
const (
	geminiProbeAddr = "generativelanguage.googleapis.com:443"
	openaiProbeAddr = "api.openai.com:443"
	probeTimeout    = 3 * time.Second
)

// StartLive starts (or toggles off) a live session in dir.
func (s *Service) StartLive(ctx context.Context, dir types.Direction) error {
	if err := s.live.Start(ctx, dir); err != nil {
		slog.Warn("start live translation", "direction", dir, "error", err)
		return err
	}
	return nil
}

// StopLive ends the live session, if any.
func (s *Service) StopLive() {
	s.live.Stop()
}

// GetLiveStatus returns the current live translation status.
func (s *Service) GetLiveStatus() types.LiveStatus {
	return s.live.Snapshot()
}

// Messages returns the conversation log.
func (s *Service) Messages() []types.MessageRecord {
	return s.live.Conversation().Messages()
}

// ResolveDirection maps "forward", "backward" or "en-ru" to a direction of
// the pair. Empty means forward.
func (s *Service) ResolveDirection(v string) (types.Direction, error) {
	pair := s.cfg.Languages
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "forward", "1":
		return pair.Forward(), nil
	case "backward", "2":
		return pair.Backward(), nil
	}
	d, err := types.ParseDirection(v)
	if err != nil {
		return types.Direction{}, err
	}
	if !pair.Allows(d) {
		return types.Direction{}, fmt.Errorf("%w: %s", livetranslate.ErrInvalidDirection, d)
	}
	return d, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Dialer
// ─────────────────────────────────────────────────────────────────────────────

// newDialer builds the live channel dialer for the configured provider.
func newDialer(ctx context.Context, cfg *config.Config) (livetranslate.Dialer, error) {
	p := cfg.Active()
	switch cfg.Provider {
	case config.ProviderOpenAI:
		d, err := openai.NewDialer(openai.Config{APIKey: p.APIKey, Model: p.Model})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		d, err := gemini.NewDialer(ctx, gemini.Config{APIKey: p.APIKey, Model: p.Model})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// lazyDialer defers building the provider dialer to the first Dial, so the
// service starts without credentials and the error surfaces on Start.
type lazyDialer struct {
	build func(ctx context.Context) (livetranslate.Dialer, error)

	mu sync.Mutex
	d  livetranslate.Dialer
}

func (l *lazyDialer) Dial(ctx context.Context, cfg livetranslate.ChannelConfig) (livetranslate.Channel, error) {
	l.mu.Lock()
	if l.d == nil {
		d, err := l.build(ctx)
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("create dialer: %w", err)
		}
		l.d = d
	}
	d := l.d
	l.mu.Unlock()
	return d.Dial(ctx, cfg)
}

// ─────────────────────────────────────────────────────────────────────────────
// Connectivity
// ─────────────────────────────────────────────────────────────────────────────

// probeOnline reports whether a TCP connection to addr can be opened.
func probeOnline(addr string, timeout time.Duration) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			slog.Debug("connectivity probe failed", "addr", addr, "error", err)
			return false
		}
		conn.Close()
		return true
	}
}

func probeAddr(provider string) string {
	if provider == config.ProviderOpenAI {
		return openaiProbeAddr
	}
	return geminiProbeAddr
}
