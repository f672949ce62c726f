// Package speaker is the playback-rate audio device. It mixes buffers that are
// scheduled at absolute positions on the device clock, which advances with
// every frame rendered to the sound card.
package speaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"go.aimuz.me/parley/codec"
)

// Sentinel errors.
var (
	ErrClosed       = errors.New("speaker: device closed")
	ErrVoiceStopped = errors.New("speaker: voice already stopped")
	ErrRateMismatch = errors.New("speaker: buffer sample rate differs from device")
)

// Device mixes scheduled voices. The zero value is not usable; use New or Open.
type Device struct {
	rate     int
	attached bool

	mu     sync.Mutex
	pos    int64 // frames rendered so far
	voices []*voice
	closed bool
}

type voice struct {
	start   int64
	frames  [][2]float64
	onEnded func()
	stopped bool
	done    bool
}

// New creates a device clock that is not attached to hardware. Frames advance
// only when Stream is called.
func New(sampleRate int) *Device {
	return &Device{rate: sampleRate}
}

// Open initializes the system speaker at sampleRate and starts pulling frames
// from a new Device. latency is the speaker buffer length.
func Open(sampleRate int, latency time.Duration) (*Device, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("speaker: invalid sample rate %d", sampleRate)
	}
	if latency <= 0 {
		latency = 100 * time.Millisecond
	}
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(latency)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	d := New(sampleRate)
	d.attached = true
	speaker.Play(d)
	return d, nil
}

// SampleRate returns the device rate.
func (d *Device) SampleRate() int {
	return d.rate
}

// Now returns the device clock.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framesToDuration(d.pos)
}

// Schedule queues buf to begin at the absolute device time at. onEnded is
// called from a separate goroutine once the last frame has been rendered;
// it is not called for stopped voices. The returned stop func reports
// ErrVoiceStopped when the voice already ended or was stopped.
func (d *Device) Schedule(buf *codec.Buffer, at time.Duration, onEnded func()) (func() error, error) {
	if buf == nil || buf.Len() == 0 {
		return nil, codec.ErrEmpty
	}
	if buf.SampleRate != d.rate {
		return nil, fmt.Errorf("%w: %d != %d", ErrRateMismatch, buf.SampleRate, d.rate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	start := d.durationToFrames(at)
	if start < d.pos {
		start = d.pos
	}
	v := &voice{start: start, frames: buf.Frames, onEnded: onEnded}
	d.voices = append(d.voices, v)

	return func() error { return d.stop(v) }, nil
}

func (d *Device) stop(v *voice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v.stopped || v.done {
		return ErrVoiceStopped
	}
	v.stopped = true
	return nil
}

// Active returns the number of voices not yet ended or stopped.
func (d *Device) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, v := range d.voices {
		if !v.stopped && !v.done {
			n++
		}
	}
	return n
}

// Stream renders the next len(samples) frames. It implements beep.Streamer
// and never runs dry; silence is rendered between voices.
func (d *Device) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}

	d.mu.Lock()
	from := d.pos
	to := from + int64(len(samples))

	var ended []func()
	keep := d.voices[:0]
	for _, v := range d.voices {
		if v.stopped {
			continue
		}
		end := v.start + int64(len(v.frames))
		lo := max(v.start, from)
		hi := min(end, to)
		for t := lo; t < hi; t++ {
			f := v.frames[t-v.start]
			samples[t-from][0] += f[0]
			samples[t-from][1] += f[1]
		}
		if end <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	for i := len(keep); i < len(d.voices); i++ {
		d.voices[i] = nil
	}
	d.voices = keep
	d.pos = to
	d.mu.Unlock()

	for _, fn := range ended {
		go fn()
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (d *Device) Err() error { return nil }

// Close detaches the device from the speaker and drops all voices.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.voices = nil
	attached := d.attached
	d.mu.Unlock()

	if attached {
		speaker.Clear()
		speaker.Close()
	}
	return nil
}

func (d *Device) framesToDuration(n int64) time.Duration {
	if d.rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(d.rate)
}

func (d *Device) durationToFrames(t time.Duration) int64 {
	if t <= 0 {
		return 0
	}
	// Round to the nearest frame: durations of whole-frame buffers are
	// truncated to the nanosecond and must map back to the same frame.
	return (int64(t)*int64(d.rate) + int64(time.Second)/2) / int64(time.Second)
}
