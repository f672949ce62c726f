// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"go.aimuz.me/parley/internal/types"
)

const (
	appName        = "parley"
	configFileName = "config.yaml"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Environment variables that override API keys from the file.
const (
	EnvGeminiKey = "GEMINI_API_KEY"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// Config represents the application configuration.
type Config struct {
	Provider  string             `yaml:"provider"`
	Enabled   bool               `yaml:"enabled"`
	Gemini    ProviderConfig     `yaml:"gemini"`
	OpenAI    ProviderConfig     `yaml:"openai"`
	Languages types.LanguagePair `yaml:"languages"`
	Audio     AudioConfig        `yaml:"audio"`
	Server    ServerConfig       `yaml:"server"`
	Cache     CacheConfig        `yaml:"cache"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ProviderConfig configures one engine: the live model and the text model used
// for typed entries.
type ProviderConfig struct {
	APIKey      string      `yaml:"api_key"`
	Model       string      `yaml:"model"`
	TextModel   string      `yaml:"text_model"`
	BaseURL     string      `yaml:"base_url,omitempty"`
	MaxTokens   int         `yaml:"max_tokens"`
	Temperature float64     `yaml:"temperature"`
	Voices      VoiceConfig `yaml:"voices"`
}

// VoiceConfig names the voice for each direction of the pair. Voice names are
// engine-specific.
type VoiceConfig struct {
	Forward  string `yaml:"forward"`  // A→B
	Backward string `yaml:"backward"` // B→A
}

// AudioConfig contains audio processing parameters.
type AudioConfig struct {
	CaptureRate     int           `yaml:"capture_rate"`
	PlaybackRate    int           `yaml:"playback_rate"`
	PlaybackLatency time.Duration `yaml:"playback_latency"`
	FrameSamples    int           `yaml:"frame_samples"`
	SendQueue       int           `yaml:"send_queue"`
	MeterInterval   time.Duration `yaml:"meter_interval"`
}

// ServerConfig configures the local UI bridge.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CacheConfig configures the text translation cache. An empty path keeps the
// cache in memory.
type CacheConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderGemini,
		Enabled:  true,
		Gemini: ProviderConfig{
			Model:       "gemini-2.5-flash-native-audio-preview-09-2025",
			TextModel:   "gemini-2.5-flash",
			MaxTokens:   types.DefaultMaxTokens,
			Temperature: types.DefaultTemperature,
			Voices:      VoiceConfig{Forward: "Kore", Backward: "Puck"},
		},
		OpenAI: ProviderConfig{
			Model:       "gpt-realtime",
			TextModel:   "gpt-4o-mini",
			MaxTokens:   types.DefaultMaxTokens,
			Temperature: types.DefaultTemperature,
			Voices:      VoiceConfig{Forward: "marin", Backward: "cedar"},
		},
		Languages: types.LanguagePair{A: "en", B: "ru"},
		Audio: AudioConfig{
			CaptureRate:     16000,
			PlaybackRate:    24000,
			PlaybackLatency: 100 * time.Millisecond,
			FrameSamples:    4096,
			SendQueue:       32,
			MeterInterval:   16 * time.Millisecond,
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8765",
		},
		Cache:   CacheConfig{TTL: 24 * time.Hour},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns config.yaml under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// Load reads the configuration at path, or at DefaultPath when path is empty.
// A missing file yields the defaults. Fields absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Save persists the configuration to path.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvGeminiKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.OpenAI.APIKey = v
	}
}

// Active returns the section of the selected provider.
func (c *Config) Active() ProviderConfig {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI
	}
	return c.Gemini
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := c.Logging.parse()
	return lvl
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Provider)
	}
	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}
	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}
	if err := validatePair(c.Languages); err != nil {
		return fmt.Errorf("languages config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates a provider section. The API key is checked when a
// session starts, not here.
func (p *ProviderConfig) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if p.TextModel == "" {
		return fmt.Errorf("text_model cannot be empty")
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative, got %d", p.MaxTokens)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", p.Temperature)
	}
	if p.Voices.Forward == "" || p.Voices.Backward == "" {
		return fmt.Errorf("voices must name both directions")
	}
	return nil
}

var isoCode = regexp.MustCompile(`^[a-z]{2}$`)

func validatePair(p types.LanguagePair) error {
	if !isoCode.MatchString(p.A) || !isoCode.MatchString(p.B) {
		return fmt.Errorf("a and b must be lowercase ISO-639-1 codes, got %q and %q", p.A, p.B)
	}
	if p.A == p.B {
		return fmt.Errorf("a and b must differ, both are %q", p.A)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.CaptureRate < 8000 || a.CaptureRate > 48000 {
		return fmt.Errorf("capture_rate must be between 8000 and 48000, got %d", a.CaptureRate)
	}
	if a.PlaybackRate < 8000 || a.PlaybackRate > 48000 {
		return fmt.Errorf("playback_rate must be between 8000 and 48000, got %d", a.PlaybackRate)
	}
	if a.PlaybackLatency <= 0 {
		return fmt.Errorf("playback_latency must be positive, got %v", a.PlaybackLatency)
	}
	if a.FrameSamples < 1 {
		return fmt.Errorf("frame_samples must be at least 1, got %d", a.FrameSamples)
	}
	if a.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", a.SendQueue)
	}
	if a.MeterInterval <= 0 {
		return fmt.Errorf("meter_interval must be positive, got %v", a.MeterInterval)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Enabled && s.Listen == "" {
		return fmt.Errorf("listen cannot be empty when the server is enabled")
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	_, err := l.parse()
	return err
}

func (l *LoggingConfig) parse() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}
	return lvl, nil
}
