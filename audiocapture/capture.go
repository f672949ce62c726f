// Package audiocapture provides microphone capture delivered as fixed-size
// mono float32 frames.
package audiocapture

import (
	"errors"
	"sync"
)

// Sentinel errors.
var (
	ErrRunning     = errors.New("audiocapture: already capturing")
	ErrClosed      = errors.New("audiocapture: device closed")
	ErrUnsupported = errors.New("audiocapture: no capture device available")
)

// AudioHandler receives one frame of mono float32 samples in [-1, 1].
// The slice is only valid for the duration of the call.
type AudioHandler func(samples []float32)

// Capturer is one open microphone stream.
// Stop is idempotent and safe to call on a stream that never started.
type Capturer interface {
	Start(handler AudioHandler) error
	Stop() error
}

// Config holds configuration for microphone capture.
type Config struct {
	SampleRate   int // Capture rate, default 16000 Hz
	FrameSamples int // Samples per delivered frame, default 4096
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameSamples: 4096,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = def.FrameSamples
	}
	return c
}

// Framer regroups device callbacks of arbitrary length into fixed-size frames.
type Framer struct {
	mu      sync.Mutex
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of exactly size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = DefaultConfig().FrameSamples
	}
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size*2),
	}
}

// Write appends samples and calls emit once per completed frame, in order.
func (f *Framer) Write(samples []float32, emit AudioHandler) {
	f.mu.Lock()
	f.pending = append(f.pending, samples...)
	var frames [][]float32
	for len(f.pending) >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	// Compact so the backing array does not grow without bound.
	if cap(f.pending) > f.size*4 {
		f.pending = append(make([]float32, 0, f.size*2), f.pending...)
	}
	f.mu.Unlock()

	for _, frame := range frames {
		emit(frame)
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = f.pending[:0]
}
