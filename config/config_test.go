package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvGeminiKey, "")
	t.Setenv(EnvOpenAIKey, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderGemini {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderGemini)
	}
	if cfg.Languages.A != "en" || cfg.Languages.B != "ru" {
		t.Errorf("Languages = %+v, want en/ru", cfg.Languages)
	}
	if cfg.Gemini.Voices.Forward != "Kore" || cfg.Gemini.Voices.Backward != "Puck" {
		t.Errorf("Gemini voices = %+v", cfg.Gemini.Voices)
	}
	if cfg.Audio.SendQueue != 32 || cfg.Audio.MeterInterval != 16*time.Millisecond {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
}

func TestLoadPartialFile(t *testing.T) {
	t.Setenv(EnvGeminiKey, "")
	t.Setenv(EnvOpenAIKey, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
provider: openai
openai:
  api_key: sk-file
  voices:
    forward: alloy
    backward: verse
languages:
  a: de
  b: fr
audio:
  meter_interval: 32ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	active := cfg.Active()
	if active.APIKey != "sk-file" || active.Model != "gpt-realtime" {
		t.Errorf("Active() = %+v, want file key and default model", active)
	}
	if active.Voices.Forward != "alloy" {
		t.Errorf("Forward voice = %q, want %q", active.Voices.Forward, "alloy")
	}
	if cfg.Languages.A != "de" || cfg.Languages.B != "fr" {
		t.Errorf("Languages = %+v, want de/fr", cfg.Languages)
	}
	if cfg.Audio.MeterInterval != 32*time.Millisecond {
		t.Errorf("MeterInterval = %v, want 32ms", cfg.Audio.MeterInterval)
	}
	if cfg.Audio.CaptureRate != 16000 {
		t.Errorf("CaptureRate = %d, want default 16000", cfg.Audio.CaptureRate)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(EnvGeminiKey, "g-env")
	t.Setenv(EnvOpenAIKey, "o-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gemini:\n  api_key: g-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.APIKey != "g-env" || cfg.OpenAI.APIKey != "o-env" {
		t.Errorf("keys = %q/%q, want env values", cfg.Gemini.APIKey, cfg.OpenAI.APIKey)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"bad_yaml", "provider: [", "parse config"},
		{"provider", "provider: claude", "provider must be"},
		{"same_languages", "languages: {a: en, b: en}", "must differ"},
		{"bad_code", "languages: {a: eng, b: ru}", "ISO-639-1"},
		{"capture_rate", "audio: {capture_rate: 100}", "capture_rate"},
		{"send_queue", "audio: {send_queue: 0}", "send_queue"},
		{"voice", "gemini: {voices: {forward: ''}}", "voices"},
		{"listen", "server: {enabled: true, listen: ''}", "listen"},
		{"level", "logging: {level: loud}", "level must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	t.Setenv(EnvGeminiKey, "")
	t.Setenv(EnvOpenAIKey, "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Provider = ProviderOpenAI
	cfg.Audio.MeterInterval = 20 * time.Millisecond
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider != ProviderOpenAI || got.Audio.MeterInterval != 20*time.Millisecond {
		t.Errorf("reloaded = %+v", got)
	}
}
