package livetranslate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/internal/metrics"
)

// ErrNoOutput is returned by Enqueue before an output is attached.
var ErrNoOutput = errors.New("livetranslate: no playback output")

// Output is a clocked playback device.
//
// Schedule starts buf at the absolute device time at. onEnded must be invoked
// asynchronously, never from inside Schedule or stop. stop may report an
// error for a voice that already finished; callers ignore it.
type Output interface {
	SampleRate() int
	Now() time.Duration
	Schedule(buf *codec.Buffer, at time.Duration, onEnded func()) (stop func() error, err error)
}

// PlaybackUnit describes one scheduled buffer.
type PlaybackUnit struct {
	ID       uint64
	StartAt  time.Duration
	Duration time.Duration
}

type liveUnit struct {
	PlaybackUnit
	stop func() error
}

// Scheduler plays decoded buffers back to back on an Output. Units start in
// arrival order, never overlap, and leave no gap when they arrive early.
type Scheduler struct {
	mu     sync.Mutex
	out    Output
	cursor time.Duration
	nextID uint64
	live   map[uint64]*liveUnit

	metrics *metrics.Metrics
}

// NewScheduler creates a scheduler on out. out may be nil and attached later.
func NewScheduler(out Output, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		out:     out,
		live:    make(map[uint64]*liveUnit),
		metrics: m,
	}
}

func (s *Scheduler) attach(out Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by its
// duration.
func (s *Scheduler) Enqueue(buf *codec.Buffer) (PlaybackUnit, error) {
	if buf.Len() == 0 {
		return PlaybackUnit{}, codec.ErrEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return PlaybackUnit{}, ErrNoOutput
	}

	startAt := max(s.cursor, s.out.Now())
	s.nextID++
	id := s.nextID

	stop, err := s.out.Schedule(buf, startAt, func() { s.release(id) })
	if err != nil {
		return PlaybackUnit{}, err
	}

	u := &liveUnit{
		PlaybackUnit: PlaybackUnit{ID: id, StartAt: startAt, Duration: buf.Duration()},
		stop:         stop,
	}
	s.live[id] = u
	s.cursor = startAt + u.Duration
	s.metrics.SetActiveUnits(len(s.live))
	return u.PlaybackUnit, nil
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	s.metrics.SetActiveUnits(len(s.live))
}

// ForceStopAll stops every queued or playing unit and rewinds the cursor.
func (s *Scheduler) ForceStopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.live {
		if err := u.stop(); err != nil {
			slog.Debug("stop playback unit", "id", id, "error", err)
		}
	}
	clear(s.live)
	s.cursor = 0
	s.metrics.SetActiveUnits(0)
}

// Cursor returns the time at which the next unit would start if the device
// clock has not passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Live returns the number of units queued or playing.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
