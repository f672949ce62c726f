package audiocapture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Microphone owns the capture-rate device context. The context is created on
// first use and reused for every stream opened afterwards.
type Microphone struct {
	cfg Config

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// NewMicrophone creates a microphone source. No device is touched until Open.
func NewMicrophone(cfg Config) *Microphone {
	return &Microphone{cfg: cfg.withDefaults()}
}

// SampleRate returns the capture rate.
func (m *Microphone) SampleRate() int {
	return m.cfg.SampleRate
}

// Open requests microphone access and returns a stopped stream.
func (m *Microphone) Open() (Capturer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			slog.Debug("malgo", "msg", msg)
		})
		if err != nil {
			return nil, fmt.Errorf("init audio context: %w", err)
		}
		m.ctx = ctx
	}

	s := &stream{framer: NewFramer(m.cfg.FrameSamples)}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(m.cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(m.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	s.dev = dev
	return s, nil
}

// Close releases the device context. Streams must be stopped first.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

// stream is one malgo capture device.
type stream struct {
	framer  *Framer
	handler atomic.Pointer[AudioHandler]

	mu      sync.Mutex
	dev     *malgo.Device
	running bool
	stopped bool
}

func (s *stream) Start(handler AudioHandler) error {
	if handler == nil {
		return fmt.Errorf("audiocapture: nil handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.dev == nil {
		return ErrClosed
	}
	if s.running {
		return ErrRunning
	}

	s.handler.Store(&handler)
	if err := s.dev.Start(); err != nil {
		s.handler.Store(nil)
		return fmt.Errorf("start capture device: %w", err)
	}
	s.running = true
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.running = false
	s.handler.Store(nil)

	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev.Uninit()
	s.dev = nil
	s.framer.Reset()
	return err
}

// onData runs on the audio thread.
func (s *stream) onData(_, input []byte, frameCount uint32) {
	h := s.handler.Load()
	if h == nil {
		return
	}
	n := int(frameCount)
	if len(input) < n*4 {
		n = len(input) / 4
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	s.framer.Write(samples, *h)
}
