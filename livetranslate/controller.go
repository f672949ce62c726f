// Package livetranslate runs live speech-to-speech translation sessions:
// microphone frames go out over a Channel, translated speech comes back and
// is played gaplessly, and both transcripts are merged into a conversation log.
package livetranslate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/internal/metrics"
	"go.aimuz.me/parley/internal/types"
)

// Sentinel errors returned by Start.
var (
	ErrOffline          = errors.New("livetranslate: offline")
	ErrDisabled         = errors.New("livetranslate: disabled")
	ErrInvalidDirection = errors.New("livetranslate: direction not in language pair")
	ErrStopped          = errors.New("livetranslate: session stopped while connecting")
)

// Notification names passed to the Emitter.
const (
	EventStatus     = "live:status"
	EventTranscript = "live:transcript"
	EventVolume     = "live:volume"
	EventMessage    = "live:message"
)

// defaultInboundRate is assumed for audio chunks whose MIME type has no rate.
const defaultInboundRate = 24000

// Emitter pushes a notification to the UI. It must not block and must not
// call back into the Controller.
type Emitter func(name string, data any)

// Microphone opens capture streams at a fixed rate.
type Microphone interface {
	Open() (audiocapture.Capturer, error)
	SampleRate() int
}

// Config holds the collaborators of a Controller.
type Config struct {
	Pair     types.LanguagePair
	Voices   Voices
	Provider string // reported in status snapshots

	Dialer     Dialer
	Microphone Microphone
	// OpenOutput is called on the first Start; the output is then reused.
	OpenOutput func() (Output, error)

	// Online and Enabled gate Start. Nil means always true.
	Online  func(ctx context.Context) bool
	Enabled func() bool

	SendQueue     int
	MeterInterval time.Duration

	Emit    Emitter
	Metrics *metrics.Metrics
}

type session struct {
	gen     uint64
	dir     types.Direction
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	capturer audiocapture.Capturer
	ch       Channel
	pipeline *Pipeline
}

// Controller owns at most one session and its state machine:
// Idle → Connecting → Live → Idle.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	status  types.Status
	dir     types.Direction
	session *session
	liveAt  time.Time
	output  Output

	gen    atomic.Uint64
	volume atomic.Uint64 // float64 bits

	sched  *Scheduler
	merger *Merger
	log    *Conversation
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cfg:    cfg,
		status: types.StatusIdle,
	}
	c.log = NewConversation(cfg.Metrics, func(rec types.MessageRecord) {
		c.emit(EventMessage, rec)
	})
	c.merger = NewMerger(c.log, func(live types.LiveTranscript) {
		c.emit(EventTranscript, live)
	})
	c.sched = NewScheduler(nil, cfg.Metrics)
	return c
}

// Start opens a session in direction dir. Starting the direction that is
// already running stops it instead. Start returns once the channel is dialed;
// the session turns Live when the channel reports it is open.
func (c *Controller) Start(ctx context.Context, dir types.Direction) error {
	if c.cfg.Enabled != nil && !c.cfg.Enabled() {
		return ErrDisabled
	}
	if !c.cfg.Pair.Allows(dir) {
		return fmt.Errorf("%w: %s", ErrInvalidDirection, dir)
	}
	if c.cfg.Online != nil && !c.cfg.Online(ctx) {
		return ErrOffline
	}

	c.mu.Lock()
	if s := c.session; s != nil {
		same := s.dir == dir
		c.stopLocked("restart")
		if same {
			c.mu.Unlock()
			return nil
		}
	}
	out, err := c.outputLocked()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open output: %w", err)
	}
	s := &session{
		gen:     c.gen.Add(1),
		dir:     dir,
		started: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.session = s
	c.dir = dir
	c.merger.Reset()
	c.mu.Unlock()

	// Connecting is published only once the microphone is granted.
	capt, err := c.cfg.Microphone.Open()
	if err != nil {
		c.abort(s, "microphone")
		return fmt.Errorf("open microphone: %w", err)
	}
	if !c.bind(s, func() {
		s.capturer = capt
		c.setStatusLocked(types.StatusConnecting)
	}) {
		if err := capt.Stop(); err != nil {
			slog.Debug("release microphone", "error", err)
		}
		return ErrStopped
	}

	ch, err := c.cfg.Dialer.Dial(s.ctx, ChannelConfig{
		ResponseModality:    ModalityAudio,
		Voice:               c.cfg.Voices.For(c.cfg.Pair, dir),
		SystemInstruction:   Instruction(dir),
		InputTranscription:  true,
		OutputTranscription: true,
		InputSampleRate:     c.cfg.Microphone.SampleRate(),
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		c.abort(s, "dial")
		return fmt.Errorf("dial channel: %w", err)
	}
	if !c.bind(s, func() { s.ch = ch }) {
		if err := ch.Close(); err != nil {
			slog.Debug("close channel", "error", err)
		}
		return ErrStopped
	}

	go c.dispatch(s, ch)
	slog.Debug("live channel dialed", "direction", dir.String(), "provider", c.cfg.Provider)
	return nil
}

// Stop ends the current session, if any. It is safe to call at any time and
// any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked("stop")
}

// Close stops the session and releases the playback output.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked("close")
	if cl, ok := c.output.(io.Closer); ok {
		c.output = nil
		return cl.Close()
	}
	return nil
}

// Status returns the session state.
func (c *Controller) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Direction returns the direction of the current or most recent session.
func (c *Controller) Direction() types.Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// Volume returns the smoothed input level; zero when not live.
func (c *Controller) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// LiveTranscript returns the in-progress transcript pair.
func (c *Controller) LiveTranscript() types.LiveTranscript {
	return c.merger.Live()
}

// Conversation returns the message log.
func (c *Controller) Conversation() *Conversation {
	return c.log
}

// Snapshot returns a status summary for the UI.
func (c *Controller) Snapshot() types.LiveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() types.LiveStatus {
	var dur int64
	if c.status == types.StatusLive {
		dur = int64(time.Since(c.liveAt).Seconds())
	}
	return types.LiveStatus{
		Status:     c.status,
		Direction:  c.dir,
		Provider:   c.cfg.Provider,
		Duration:   dur,
		Volume:     c.Volume(),
		MessageCnt: c.log.Len(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Session lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// bind runs fn under the lock if s is still the current session.
func (c *Controller) bind(s *session, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return false
	}
	fn()
	return true
}

func (c *Controller) abort(s *session, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.stopLocked(reason)
	}
}

// stopGeneration stops the session only if it is still generation gen.
func (c *Controller) stopGeneration(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.gen == gen {
		c.stopLocked(reason)
	}
}

func (c *Controller) stopLocked(reason string) {
	if s := c.session; s != nil {
		c.session = nil
		c.gen.Add(1)
		s.cancel()

		// Close the channel before joining the pipeline: transports may
		// ignore ctx, and only Close unblocks a Send stuck on the network.
		if s.ch != nil {
			if err := s.ch.Close(); err != nil {
				slog.Debug("close channel", "error", err)
			}
		}
		if s.pipeline != nil {
			s.pipeline.Stop()
		} else if s.capturer != nil {
			if err := s.capturer.Stop(); err != nil {
				slog.Debug("release microphone", "error", err)
			}
		}

		if c.status == types.StatusLive {
			d := time.Since(c.liveAt)
			c.cfg.Metrics.SessionEnded(reason, d.Seconds())
			slog.Info("live translation stopped", "reason", reason, "direction", s.dir.String(), "duration", d.Round(time.Second))
		}
	}

	c.sched.ForceStopAll()
	c.merger.Reset()
	c.setVolume(0)
	c.setStatusLocked(types.StatusIdle)
}

func (c *Controller) outputLocked() (Output, error) {
	if c.output != nil {
		return c.output, nil
	}
	if c.cfg.OpenOutput == nil {
		return nil, ErrNoOutput
	}
	out, err := c.cfg.OpenOutput()
	if err != nil {
		return nil, err
	}
	c.output = out
	c.sched.attach(out)
	return out, nil
}

// dispatch applies channel events in arrival order until the channel closes.
// Events for a session that is no longer current are drained and ignored.
func (c *Controller) dispatch(s *session, ch Channel) {
	for ev := range ch.Events() {
		c.handle(s, ev)
	}
	c.abort(s, "channel ended")
}

func (c *Controller) handle(s *session, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || s.ctx.Err() != nil {
		return
	}

	switch e := ev.(type) {
	case OpenEvent:
		c.goLiveLocked(s)
	case AudioChunkEvent:
		c.playLocked(e)
	case TranscriptDeltaEvent:
		switch e.Stream {
		case StreamSource:
			c.merger.AppendSource(e.Text)
		case StreamTranslated:
			c.merger.AppendTranslated(e.Text)
		}
	case TurnCompleteEvent:
		c.merger.Finalize()
	case InterruptedEvent:
		c.sched.ForceStopAll()
	case ErrorEvent:
		slog.Warn("live channel error", "error", e.Err)
		c.stopLocked("error")
	case CloseEvent:
		slog.Info("live channel closed", "reason", e.Reason)
		c.stopLocked("remote close")
	}
}

func (c *Controller) goLiveLocked(s *session) {
	if c.status == types.StatusLive {
		return
	}
	gen := s.gen
	p, err := StartPipeline(s.ctx, PipelineConfig{
		Capturer: s.capturer,
		Send:     s.ch.Send,
		Alive:    func() bool { return c.gen.Load() == gen },
		OnSendError: func(error) {
			go c.stopGeneration(gen, "send error")
		},
		OnVolume:      c.setVolume,
		QueueSize:     c.cfg.SendQueue,
		MeterInterval: c.cfg.MeterInterval,
		Metrics:       c.cfg.Metrics,
	})
	if err != nil {
		slog.Error("start capture pipeline", "error", err)
		c.stopLocked("capture error")
		return
	}
	s.pipeline = p
	c.liveAt = time.Now()
	c.cfg.Metrics.SessionStarted()
	c.setStatusLocked(types.StatusLive)
	slog.Info("live translation started", "source", s.dir.Source, "target", s.dir.Target, "provider", c.cfg.Provider)
}

func (c *Controller) playLocked(e AudioChunkEvent) {
	rate, err := codec.ParseMIME(e.MIMEType, defaultInboundRate)
	if err == nil {
		var buf *codec.Buffer
		buf, err = codec.DecodeAudioData(e.Data, rate, 1, c.output.SampleRate())
		if err == nil {
			_, err = c.sched.Enqueue(buf)
		}
	}
	if err != nil {
		slog.Warn("drop audio chunk", "mime", e.MIMEType, "bytes", len(e.Data), "error", err)
		c.cfg.Metrics.DecodeFailed()
		return
	}
	c.cfg.Metrics.ChunkDecoded()
}

func (c *Controller) setStatusLocked(st types.Status) {
	if c.status == st {
		return
	}
	c.status = st
	c.emit(EventStatus, c.snapshotLocked())
}

func (c *Controller) setVolume(v float64) {
	old := math.Float64frombits(c.volume.Swap(math.Float64bits(v)))
	if math.Abs(old-v) >= 0.001 || (v == 0 && old != 0) {
		c.emit(EventVolume, v)
	}
}

func (c *Controller) emit(name string, data any) {
	if c.cfg.Emit != nil {
		c.cfg.Emit(name, data)
	}
}
