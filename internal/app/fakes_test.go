package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/config"
	"go.aimuz.me/parley/internal/types"
	"go.aimuz.me/parley/livetranslate"
	"go.aimuz.me/parley/llm"
)

// mockCompleter implements llm.Completer for testing.
type mockCompleter struct {
	mu       sync.Mutex
	response string
	usage    types.Usage
	err      error
	calls    int
	last     []llm.Message
}

func (m *mockCompleter) Complete(_ context.Context, msgs []llm.Message) (string, types.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = msgs
	return m.response, m.usage, m.err
}

func (m *mockCompleter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeChannel struct {
	events chan livetranslate.Event
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan livetranslate.Event, 16)}
}

func (c *fakeChannel) Events() <-chan livetranslate.Event { return c.events }

func (c *fakeChannel) Send(context.Context, []byte) error { return nil }

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

type fakeCapturer struct{}

func (fakeCapturer) Start(audiocapture.AudioHandler) error { return nil }
func (fakeCapturer) Stop() error                           { return nil }

type fakeMicrophone struct{ err error }

func (m fakeMicrophone) Open() (audiocapture.Capturer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return fakeCapturer{}, nil
}

func (fakeMicrophone) SampleRate() int { return 16000 }

type fakeOutput struct{}

func (fakeOutput) SampleRate() int    { return 24000 }
func (fakeOutput) Now() time.Duration { return 0 }
func (fakeOutput) Schedule(*codec.Buffer, time.Duration, func()) (func() error, error) {
	return func() error { return nil }, nil
}

// recorder collects emitted notifications.
type recorder struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recorder) emit(name string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Notification{Event: name, Data: data})
}

func (r *recorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.events {
		if n.Event == name {
			return true
		}
	}
	return false
}

type harness struct {
	svc       *Service
	completer *mockCompleter
	channels  chan *fakeChannel
	rec       *recorder
}

func newHarness(t *testing.T, mic fakeMicrophone) *harness {
	t.Helper()

	h := &harness{
		completer: &mockCompleter{response: "Привет"},
		channels:  make(chan *fakeChannel, 4),
		rec:       &recorder{},
	}
	cfg := config.Default()
	svc, err := New(cfg, "test", Options{
		Microphone: mic,
		OpenOutput: func() (livetranslate.Output, error) { return fakeOutput{}, nil },
		Dialer: livetranslate.DialerFunc(func(context.Context, livetranslate.ChannelConfig) (livetranslate.Channel, error) {
			ch := newFakeChannel()
			h.channels <- ch
			return ch, nil
		}),
		Completer: h.completer,
		Online:    func(context.Context) bool { return true },
		Emit:      h.rec.emit,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	h.svc = svc
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errMicDenied = errors.New("microphone denied")
