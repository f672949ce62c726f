// Package codec converts between capture samples, the PCM16 transport
// encoding, and playable buffers at the output rate.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gopxl/beep"
)

// Sentinel errors.
var (
	ErrEmpty       = errors.New("codec: empty audio")
	ErrOddLength   = errors.New("codec: odd PCM16 byte length")
	ErrBadFormat   = errors.New("codec: unsupported audio format")
	ErrBadChannels = errors.New("codec: unsupported channel count")
)

// resampleQuality is passed to beep.Resample. 4 is plenty for speech.
const resampleQuality = 4

// Buffer is a decoded, playable block of audio.
type Buffer struct {
	Frames     [][2]float64
	SampleRate int
	Channels   int
}

// Len returns the number of sample frames.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Frames)
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Frames)) * time.Second / time.Duration(b.SampleRate)
}

// EncodeFrame converts mono float32 samples in [-1, 1] to 16-bit little-endian PCM.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16ToInt16 reinterprets little-endian PCM16 bytes as samples.
func PCM16ToInt16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// Int16ToPCM16 is the inverse of PCM16ToInt16.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// MIMEType returns the transport MIME type for PCM16 at rate.
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseMIME extracts the sample rate from an "audio/pcm;rate=N" MIME type.
// A missing rate yields fallback.
func ParseMIME(mime string, fallback int) (int, error) {
	base, params, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	if base != "audio/pcm" && base != "audio/l16" {
		return 0, fmt.Errorf("%w: %q", ErrBadFormat, mime)
	}
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("%w: bad rate in %q", ErrBadFormat, mime)
		}
		return rate, nil
	}
	return fallback, nil
}

// DecodeAudioData turns interleaved PCM16 bytes recorded at srcRate with
// srcChannels into a playable buffer at dstRate.
func DecodeAudioData(raw []byte, srcRate, srcChannels, dstRate int) (*Buffer, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	if srcChannels != 1 && srcChannels != 2 {
		return nil, fmt.Errorf("%w: %d", ErrBadChannels, srcChannels)
	}
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("%w: rate %d->%d", ErrBadFormat, srcRate, dstRate)
	}
	samples, err := PCM16ToInt16(raw)
	if err != nil {
		return nil, err
	}
	if len(samples)%srcChannels != 0 {
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrBadFormat, len(samples), srcChannels)
	}

	frames := make([][2]float64, len(samples)/srcChannels)
	for i := range frames {
		l := float64(samples[i*srcChannels]) / 32768
		r := l
		if srcChannels == 2 {
			r = float64(samples[i*srcChannels+1]) / 32768
		}
		frames[i] = [2]float64{l, r}
	}

	if srcRate != dstRate {
		frames = resample(frames, srcRate, dstRate)
	}
	return &Buffer{Frames: frames, SampleRate: dstRate, Channels: srcChannels}, nil
}

func resample(frames [][2]float64, from, to int) [][2]float64 {
	r := beep.Resample(resampleQuality, beep.SampleRate(from), beep.SampleRate(to), &frameStreamer{frames: frames})
	out := make([][2]float64, 0, len(frames)*to/from+1)
	chunk := make([][2]float64, 512)
	for {
		n, ok := r.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok || n == 0 {
			return out
		}
	}
}

// frameStreamer exposes a frame slice as a beep.Streamer.
type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *frameStreamer) Err() error { return nil }
