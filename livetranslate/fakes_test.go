package livetranslate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/codec"
)

// ─────────────────────────────────────────────────────────────────────────────
// Channel / Dialer
// ─────────────────────────────────────────────────────────────────────────────

type fakeChannel struct {
	cfg    ChannelConfig
	events chan Event

	mu      sync.Mutex
	sends   [][]byte
	sendErr error
	closed  bool

	// stalled, when set, makes Send ignore ctx and block until Close, like
	// a websocket write on a dead network.
	stalled chan struct{}
	done    chan struct{}
}

func newFakeChannel(cfg ChannelConfig) *fakeChannel {
	return &fakeChannel{cfg: cfg, events: make(chan Event, 64), done: make(chan struct{})}
}

func (c *fakeChannel) Events() <-chan Event { return c.events }

func (c *fakeChannel) Send(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	stalled := c.stalled
	c.mu.Unlock()
	if stalled != nil {
		select {
		case stalled <- struct{}{}:
		default:
		}
		<-c.done
		return errors.New("send on closed channel")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return errors.New("send on closed channel")
	}
	c.sends = append(c.sends, pcm)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.events)
	}
	return nil
}

// stallSends makes every later Send block until Close. The returned channel
// receives once a Send is blocked.
func (c *fakeChannel) stallSends() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled = make(chan struct{}, 1)
	return c.stalled
}

// emit delivers ev unless the channel is already closed.
func (c *fakeChannel) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- ev
	}
}

func (c *fakeChannel) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
	gate     chan struct{} // if non-nil, Dial waits for it or ctx
	dialing  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, cfg ChannelConfig) (Channel, error) {
	d.mu.Lock()
	gate, dialing, err := d.gate, d.dialing, d.err
	d.dialing = nil
	d.mu.Unlock()

	if dialing != nil {
		close(dialing)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	ch := newFakeChannel(cfg)
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// ─────────────────────────────────────────────────────────────────────────────
// Capture
// ─────────────────────────────────────────────────────────────────────────────

type fakeCapturer struct {
	mu       sync.Mutex
	handler  audiocapture.AudioHandler
	startErr error
	stops    int
}

func (c *fakeCapturer) Start(h audiocapture.AudioHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.handler = h
	return nil
}

func (c *fakeCapturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

// frame calls the registered handler, as a device callback would, even after
// Stop. Late callbacks must be ignored by the pipeline.
func (c *fakeCapturer) frame(samples []float32) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(samples)
	}
}

func (c *fakeCapturer) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type fakeMicrophone struct {
	mu        sync.Mutex
	capturers []*fakeCapturer
	err       error
}

func (m *fakeMicrophone) Open() (audiocapture.Capturer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c := &fakeCapturer{}
	m.capturers = append(m.capturers, c)
	return c, nil
}

func (m *fakeMicrophone) SampleRate() int { return 16000 }

func (m *fakeMicrophone) last() *fakeCapturer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.capturers) == 0 {
		return nil
	}
	return m.capturers[len(m.capturers)-1]
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

type scheduled struct {
	at       time.Duration
	duration time.Duration
	stopped  bool
	ended    bool
	onEnded  func()
}

type fakeOutput struct {
	mu    sync.Mutex
	rate  int
	now   time.Duration
	units []*scheduled
}

func newFakeOutput(rate int) *fakeOutput {
	return &fakeOutput{rate: rate}
}

func (o *fakeOutput) SampleRate() int { return o.rate }

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) setNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

func (o *fakeOutput) Schedule(buf *codec.Buffer, at time.Duration, onEnded func()) (func() error, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u := &scheduled{at: at, duration: buf.Duration(), onEnded: onEnded}
	o.units = append(o.units, u)
	return func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if u.stopped || u.ended {
			return errors.New("voice already stopped")
		}
		u.stopped = true
		return nil
	}, nil
}

// finish marks unit i as played and fires its callback asynchronously.
func (o *fakeOutput) finish(i int) {
	o.mu.Lock()
	u := o.units[i]
	u.ended = true
	o.mu.Unlock()
	go u.onEnded()
}

func (o *fakeOutput) list() []scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]scheduled, len(o.units))
	for i, u := range o.units {
		out[i] = *u
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func constFrame(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func pcmBytes(samples int) []byte {
	return codec.Int16ToPCM16(make([]int16, samples))
}
