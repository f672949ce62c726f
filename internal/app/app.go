package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go.aimuz.me/parley/cache"
	"go.aimuz.me/parley/config"
	"go.aimuz.me/parley/internal/metrics"
	"go.aimuz.me/parley/langdetect"
	"go.aimuz.me/parley/livetranslate"
	"go.aimuz.me/parley/llm"
)

// Options supplies the devices and optional overrides of a Service.
type Options struct {
	Microphone livetranslate.Microphone
	OpenOutput func() (livetranslate.Output, error)

	// Dialer and Completer replace the provider clients built from config.
	Dialer    livetranslate.Dialer
	Completer llm.Completer
	// Online replaces the TCP connectivity probe.
	Online func(ctx context.Context) bool

	// Emit receives every notification in addition to websocket clients.
	Emit livetranslate.Emitter
}

// Service orchestrates the live controller, typed translation and the UI
// bridge. Business logic lives in the sub-components.
type Service struct {
	cfg     *config.Config
	version string

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	cache      *cache.Cache
	translator *Translator
	detector   *langdetect.Detector
	live       *livetranslate.Controller
	hub        *Hub
	sink       livetranslate.Emitter
	enabled    atomic.Bool

	mu        sync.Mutex
	completer llm.Completer
}

// New creates a Service from cfg.
func New(cfg *config.Config, version string, opts Options) (*Service, error) {
	if opts.Microphone == nil {
		return nil, fmt.Errorf("microphone required")
	}
	if opts.OpenOutput == nil {
		return nil, fmt.Errorf("audio output required")
	}

	s := &Service{
		cfg:       cfg,
		version:   version,
		registry:  prometheus.NewRegistry(),
		completer: opts.Completer,
		sink:      opts.Emit,
	}
	s.registry.MustRegister(collectors.NewGoCollector())
	s.metrics = metrics.New(s.registry)
	s.enabled.Store(cfg.Enabled)

	c, err := cache.New(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	s.cache = c
	s.translator = NewTranslator(c, cfg.Cache.TTL)

	if d, err := langdetect.ForPair(cfg.Languages); err != nil {
		slog.Warn("language detection unavailable, typed text goes forward", "error", err)
	} else {
		s.detector = d
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &lazyDialer{build: func(ctx context.Context) (livetranslate.Dialer, error) {
			return newDialer(ctx, cfg)
		}}
	}
	online := opts.Online
	if online == nil {
		online = probeOnline(probeAddr(cfg.Provider), probeTimeout)
	}

	s.hub = NewHub(s.Handle, s.hello)

	active := cfg.Active()
	s.live = livetranslate.NewController(livetranslate.Config{
		Pair:          cfg.Languages,
		Voices:        livetranslate.Voices{Forward: active.Voices.Forward, Backward: active.Voices.Backward},
		Provider:      cfg.Provider,
		Dialer:        dialer,
		Microphone:    opts.Microphone,
		OpenOutput:    opts.OpenOutput,
		Online:        online,
		Enabled:       s.enabled.Load,
		SendQueue:     cfg.Audio.SendQueue,
		MeterInterval: cfg.Audio.MeterInterval,
		Emit:          s.emit,
		Metrics:       s.metrics,
	})

	slog.Info("service ready",
		"version", version,
		"provider", cfg.Provider,
		"pair", cfg.Languages.Forward().String())
	return s, nil
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// SetEnabled turns the live feature on or off. Disabling stops a running
// session.
func (s *Service) SetEnabled(on bool) {
	s.enabled.Store(on)
	if !on {
		s.live.Stop()
	}
}

// Handler returns the HTTP handler serving /ws and /metrics.
func (s *Service) Handler() http.Handler {
	return NewMux(s.hub, s.registry)
}

// Handle executes a frontend command.
func (s *Service) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionStart:
		dir, err := s.ResolveDirection(cmd.Direction)
		if err != nil {
			return err
		}
		return s.StartLive(ctx, dir)
	case ActionStop:
		s.StopLive()
		return nil
	case ActionText:
		_, err := s.SubmitText(ctx, cmd.Text)
		return err
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// hello is the state replayed to a newly connected client.
func (s *Service) hello() []Notification {
	return []Notification{
		{Event: EventLiveStatus, Data: s.live.Snapshot()},
		{Event: EventLiveTranscript, Data: s.live.LiveTranscript()},
		{Event: EventHistory, Data: s.Messages()},
	}
}

// emit forwards a notification to the websocket clients and the extra sink.
func (s *Service) emit(name string, data any) {
	s.hub.Broadcast(name, data)
	if s.sink != nil {
		s.sink(name, data)
	}
}

// Close stops the session and releases devices, clients and the cache.
func (s *Service) Close() error {
	s.hub.Close()
	err := s.live.Close()
	if cerr := s.cache.Close(); cerr != nil {
		slog.Error("close cache", "error", cerr)
	}
	return err
}
