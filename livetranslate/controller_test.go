package livetranslate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/parley/internal/types"
)

var (
	enRu = types.Direction{Source: "en", Target: "ru"}
	ruEn = types.Direction{Source: "ru", Target: "en"}
)

type harness struct {
	c      *Controller
	dialer *fakeDialer
	mic    *fakeMicrophone
	out    *fakeOutput

	mu     sync.Mutex
	events []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		mic:    &fakeMicrophone{},
		out:    newFakeOutput(24000),
	}
	h.c = NewController(Config{
		Pair:       types.LanguagePair{A: "en", B: "ru"},
		Voices:     Voices{Forward: "Kore", Backward: "Puck"},
		Provider:   "fake",
		Dialer:     h.dialer,
		Microphone: h.mic,
		OpenOutput: func() (Output, error) { return h.out, nil },
		Emit: func(name string, _ any) {
			h.mu.Lock()
			h.events = append(h.events, name)
			h.mu.Unlock()
		},
		MeterInterval: time.Millisecond,
	})
	t.Cleanup(func() { h.c.Stop() })
	return h
}

// goLive starts dir and completes the channel handshake.
func (h *harness) goLive(t *testing.T, dir types.Direction) *fakeChannel {
	t.Helper()
	if err := h.c.Start(context.Background(), dir); err != nil {
		t.Fatalf("Start(%s): %v", dir, err)
	}
	if st := h.c.Status(); st != types.StatusConnecting {
		t.Fatalf("Status() after Start = %q, want %q", st, types.StatusConnecting)
	}
	ch := h.dialer.last()
	ch.emit(OpenEvent{})
	waitFor(t, "live", func() bool { return h.c.Status() == types.StatusLive })
	return ch
}

func (h *harness) emitted(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == name {
			n++
		}
	}
	return n
}

func assertIdle(t *testing.T, c *Controller) {
	t.Helper()
	if st := c.Status(); st != types.StatusIdle {
		t.Errorf("Status() = %q, want %q", st, types.StatusIdle)
	}
	if v := c.Volume(); v != 0 {
		t.Errorf("Volume() = %v, want 0", v)
	}
	if live := c.LiveTranscript(); live != (types.LiveTranscript{}) {
		t.Errorf("LiveTranscript() = %+v, want empty", live)
	}
	if n := c.sched.Live(); n != 0 {
		t.Errorf("live playback units = %d, want 0", n)
	}
	if cur := c.sched.Cursor(); cur != 0 {
		t.Errorf("playback cursor = %v, want 0", cur)
	}
}

func TestControllerStopWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.c.Stop()
	h.c.Stop()
	assertIdle(t, h.c)
}

func TestControllerStopTwiceWhileLive(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)

	ch.emit(TranscriptDeltaEvent{Stream: StreamSource, Text: "half a sent"})
	ch.emit(AudioChunkEvent{Data: pcmBytes(2400), MIMEType: "audio/pcm;rate=24000"})
	waitFor(t, "audio scheduled", func() bool { return h.c.sched.Live() == 1 })

	h.c.Stop()
	h.c.Stop()

	assertIdle(t, h.c)
	if !ch.isClosed() {
		t.Error("channel not closed")
	}
	if n := h.mic.last().stopCount(); n == 0 {
		t.Error("microphone not released")
	}
	if n := h.c.Conversation().Len(); n != 0 {
		t.Errorf("Stop emitted %d records, want 0", n)
	}
}

func TestControllerDirectionToggle(t *testing.T) {
	h := newHarness(t)

	first := h.goLive(t, enRu)
	if d := h.c.Direction(); d != enRu {
		t.Errorf("Direction() = %v, want %v", d, enRu)
	}

	// Same direction again acts as stop.
	if err := h.c.Start(context.Background(), enRu); err != nil {
		t.Fatalf("toggle Start: %v", err)
	}
	assertIdle(t, h.c)
	if !first.isClosed() {
		t.Error("first channel not closed by toggle")
	}
	if n := h.dialer.count(); n != 1 {
		t.Errorf("dial count = %d, want 1", n)
	}

	// A then B: A is torn down, B goes live.
	a := h.goLive(t, enRu)
	b := h.goLive(t, ruEn)

	if !a.isClosed() {
		t.Error("session A channel not closed")
	}
	if b.isClosed() {
		t.Error("session B channel closed")
	}
	if d := h.c.Direction(); d != ruEn {
		t.Errorf("Direction() = %v, want %v", d, ruEn)
	}
	if b.cfg.Voice != "Puck" {
		t.Errorf("B voice = %q, want %q", b.cfg.Voice, "Puck")
	}
	if a.cfg.Voice != "Kore" {
		t.Errorf("A voice = %q, want %q", a.cfg.Voice, "Kore")
	}
}

func TestControllerChannelConfig(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)

	cfg := ch.cfg
	if cfg.ResponseModality != ModalityAudio {
		t.Errorf("ResponseModality = %q, want %q", cfg.ResponseModality, ModalityAudio)
	}
	if !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Error("both transcriptions should be enabled")
	}
	if cfg.InputSampleRate != 16000 {
		t.Errorf("InputSampleRate = %d, want 16000", cfg.InputSampleRate)
	}
	if !strings.Contains(cfg.SystemInstruction, "Russian") || !strings.Contains(cfg.SystemInstruction, "English") {
		t.Errorf("SystemInstruction does not name both languages: %q", cfg.SystemInstruction)
	}
}

func TestControllerRaceGuard(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)
	capt := h.mic.last()

	capt.frame(constFrame(4096, 0.2))
	waitFor(t, "first frame sent", func() bool { return ch.sendCount() == 1 })

	h.c.Stop()
	sent := ch.sendCount()

	// Frames delivered by the device after teardown began.
	for range 5 {
		capt.frame(constFrame(4096, 0.2))
	}
	time.Sleep(20 * time.Millisecond)

	if n := ch.sendCount(); n != sent {
		t.Errorf("sendCount() = %d after Stop, want %d", n, sent)
	}
}

func TestControllerSendErrorStopsSilently(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)

	ch.setSendErr(errors.New("connection reset"))
	h.mic.last().frame(constFrame(4096, 0.2))

	waitFor(t, "idle", func() bool { return h.c.Status() == types.StatusIdle })
	assertIdle(t, h.c)
	if n := h.c.Conversation().Len(); n != 0 {
		t.Errorf("send error produced %d records, want 0", n)
	}
}

func TestControllerRemoteEndings(t *testing.T) {
	tests := []struct {
		name string
		end  func(ch *fakeChannel)
	}{
		{"error_event", func(ch *fakeChannel) { ch.emit(ErrorEvent{Err: errors.New("boom")}) }},
		{"close_event", func(ch *fakeChannel) { ch.emit(CloseEvent{Reason: "going away"}) }},
		{"stream_end", func(ch *fakeChannel) { ch.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ch := h.goLive(t, enRu)
			tt.end(ch)
			waitFor(t, "idle", func() bool { return h.c.Status() == types.StatusIdle })
			assertIdle(t, h.c)
			if !ch.isClosed() {
				t.Error("channel not closed")
			}
		})
	}
}

func TestControllerTurn(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)

	ch.emit(TranscriptDeltaEvent{Stream: StreamSource, Text: "hello "})
	ch.emit(TranscriptDeltaEvent{Stream: StreamTranslated, Text: "Hello there, "})
	ch.emit(TranscriptDeltaEvent{Stream: StreamSource, Text: "there"})
	ch.emit(TranscriptDeltaEvent{Stream: StreamTranslated, Text: "привет"})
	waitFor(t, "live transcript", func() bool {
		return h.c.LiveTranscript() == types.LiveTranscript{SourceText: "hello there", TargetText: "Hello there, привет"}
	})

	ch.emit(TurnCompleteEvent{})
	waitFor(t, "records", func() bool { return h.c.Conversation().Len() == 2 })

	msgs := h.c.Conversation().Messages()
	if msgs[0].Sender != types.SenderUser || msgs[0].Text != "hello there" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Sender != types.SenderModel || msgs[1].Text != "привет" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if n := h.emitted(EventMessage); n != 2 {
		t.Errorf("%s emitted %d times, want 2", EventMessage, n)
	}

	// The same turn repeated collapses into nothing new for the model.
	ch.emit(TranscriptDeltaEvent{Stream: StreamTranslated, Text: "ПРИВЕТ"})
	ch.emit(TurnCompleteEvent{})
	time.Sleep(20 * time.Millisecond)
	if n := h.c.Conversation().Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestControllerAudioAndInterrupt(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)

	ch.emit(AudioChunkEvent{Data: pcmBytes(2400), MIMEType: "audio/pcm;rate=24000"})
	ch.emit(AudioChunkEvent{Data: pcmBytes(1200), MIMEType: "audio/pcm;rate=24000"})
	ch.emit(AudioChunkEvent{Data: []byte{1, 2, 3}, MIMEType: "audio/pcm;rate=24000"}) // odd length: dropped
	ch.emit(AudioChunkEvent{Data: pcmBytes(100), MIMEType: "audio/ogg"})             // unsupported: dropped
	waitFor(t, "two units", func() bool { return h.c.sched.Live() == 2 })

	units := h.out.list()
	if len(units) != 2 {
		t.Fatalf("scheduled %d units, want 2", len(units))
	}
	if units[0].at != 0 || units[1].at != units[0].duration {
		t.Errorf("units not back to back: %+v", units)
	}
	if units[0].duration != 100*time.Millisecond {
		t.Errorf("first duration = %v, want 100ms", units[0].duration)
	}

	ch.emit(InterruptedEvent{})
	waitFor(t, "units stopped", func() bool { return h.c.sched.Live() == 0 })
	if st := h.c.Status(); st != types.StatusLive {
		t.Errorf("Status() after interrupt = %q, want %q", st, types.StatusLive)
	}
}

func TestControllerRefusals(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(*Config)
		dir     types.Direction
		wantErr error
	}{
		{"disabled", func(c *Config) { c.Enabled = func() bool { return false } }, enRu, ErrDisabled},
		{"offline", func(c *Config) { c.Online = func(context.Context) bool { return false } }, enRu, ErrOffline},
		{"bad_direction", func(*Config) {}, types.Direction{Source: "en", Target: "de"}, ErrInvalidDirection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			mic := &fakeMicrophone{}
			opened := false
			cfg := Config{
				Pair:       types.LanguagePair{A: "en", B: "ru"},
				Dialer:     dialer,
				Microphone: mic,
				OpenOutput: func() (Output, error) {
					opened = true
					return newFakeOutput(24000), nil
				},
			}
			tt.cfg(&cfg)
			c := NewController(cfg)

			err := c.Start(context.Background(), tt.dir)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if c.Status() != types.StatusIdle {
				t.Errorf("Status() = %q, want idle", c.Status())
			}
			if opened || mic.last() != nil || dialer.count() != 0 {
				t.Error("refused Start created state")
			}
		})
	}
}

func TestControllerMicrophoneError(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errors.New("permission denied")

	err := h.c.Start(context.Background(), enRu)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("Start() error = %v, want permission error", err)
	}
	assertIdle(t, h.c)
	if h.dialer.count() != 0 {
		t.Error("dialed after microphone failure")
	}
	if n := h.emitted(EventStatus); n != 0 {
		t.Errorf("status notifications = %d, want 0 for a refused start", n)
	}
}

func TestControllerStopUnblocksStalledSend(t *testing.T) {
	h := newHarness(t)
	ch := h.goLive(t, enRu)
	stalled := ch.stallSends()

	h.mic.last().frame(constFrame(4096, 0.2))
	select {
	case <-stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("send not attempted")
	}

	stopped := make(chan struct{})
	go func() {
		h.c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a stalled send")
	}
	assertIdle(t, h.c)
	if !ch.isClosed() {
		t.Error("channel not closed")
	}
}

func TestControllerDialError(t *testing.T) {
	h := newHarness(t)
	dialErr := errors.New("handshake failed")
	h.dialer.err = dialErr

	err := h.c.Start(context.Background(), enRu)
	if !errors.Is(err, dialErr) {
		t.Fatalf("Start() error = %v, want %v", err, dialErr)
	}
	assertIdle(t, h.c)
	if n := h.mic.last().stopCount(); n == 0 {
		t.Error("microphone not released after dial failure")
	}
}

func TestControllerStopWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.dialer.gate = make(chan struct{})
	h.dialer.dialing = make(chan struct{})
	dialing := h.dialer.dialing

	errc := make(chan error, 1)
	go func() { errc <- h.c.Start(context.Background(), enRu) }()

	<-dialing
	if st := h.c.Status(); st != types.StatusConnecting {
		t.Errorf("Status() = %q, want %q", st, types.StatusConnecting)
	}
	h.c.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Start() error = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assertIdle(t, h.c)
	if n := h.mic.last().stopCount(); n == 0 {
		t.Error("microphone not released")
	}
}

func TestControllerHandleStaleSession(t *testing.T) {
	h := newHarness(t)
	h.goLive(t, enRu)

	stale := &session{gen: 999, ctx: context.Background()}
	h.c.handle(stale, CloseEvent{Reason: "stale"})
	h.c.handle(stale, TranscriptDeltaEvent{Stream: StreamSource, Text: "ghost"})

	if st := h.c.Status(); st != types.StatusLive {
		t.Errorf("Status() = %q, want live", st)
	}
	if live := h.c.LiveTranscript(); live.SourceText != "" {
		t.Errorf("stale delta applied: %+v", live)
	}
}

func TestControllerVolume(t *testing.T) {
	h := newHarness(t)
	h.goLive(t, enRu)

	h.mic.last().frame(constFrame(4096, 0.5))
	waitFor(t, "volume", func() bool { return h.c.Volume() > 0 })
	if h.emitted(EventVolume) == 0 {
		t.Errorf("%s not emitted", EventVolume)
	}

	h.c.Stop()
	if v := h.c.Volume(); v != 0 {
		t.Errorf("Volume() after Stop = %v, want 0", v)
	}
}

func TestControllerCloseReleasesOutput(t *testing.T) {
	h := newHarness(t)
	h.goLive(t, enRu)
	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertIdle(t, h.c)
}

func TestControllerOutputReused(t *testing.T) {
	opens := 0
	out := newFakeOutput(24000)
	dialer := &fakeDialer{}
	c := NewController(Config{
		Pair:       types.LanguagePair{A: "en", B: "ru"},
		Dialer:     dialer,
		Microphone: &fakeMicrophone{},
		OpenOutput: func() (Output, error) {
			opens++
			return out, nil
		},
	})
	defer c.Stop()

	for _, d := range []types.Direction{enRu, ruEn, enRu} {
		if err := c.Start(context.Background(), d); err != nil {
			t.Fatalf("Start(%s): %v", d, err)
		}
	}
	if opens != 1 {
		t.Errorf("OpenOutput called %d times, want 1", opens)
	}
	if n := dialer.count(); n != 3 {
		t.Errorf("dial count = %d, want 3", n)
	}
}

func TestInstruction(t *testing.T) {
	got := Instruction(enRu)
	for _, want := range []string{
		"English",
		"Russian",
		"Output only the direct translation into Russian",
		"Never repeat or echo the English words",
		"produce no output",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Instruction() missing %q:\n%s", want, got)
		}
	}
}

func TestLanguageName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"ru", "Russian"},
		{"de", "German"},
		{"not a code", "not a code"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := LanguageName(tt.code); got != tt.want {
				t.Errorf("LanguageName(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestVoicesFor(t *testing.T) {
	pair := types.LanguagePair{A: "en", B: "ru"}
	v := Voices{Forward: "Kore", Backward: "Puck"}
	if got := v.For(pair, enRu); got != "Kore" {
		t.Errorf("For(en-ru) = %q, want Kore", got)
	}
	if got := v.For(pair, ruEn); got != "Puck" {
		t.Errorf("For(ru-en) = %q, want Puck", got)
	}
}
