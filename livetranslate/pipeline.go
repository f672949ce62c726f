package livetranslate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/internal/metrics"
)

// Pipeline defaults.
const (
	DefaultSendQueue     = 32
	DefaultMeterInterval = 16 * time.Millisecond
)

// PipelineConfig wires a capture stream to a channel.
type PipelineConfig struct {
	Capturer audiocapture.Capturer
	Send     func(ctx context.Context, pcm []byte) error

	// Alive reports whether the owning session is still current. It is
	// checked for every frame and again right before every send.
	Alive func() bool

	// OnSendError is called once, from the sender goroutine, when a send
	// fails. It must not block on Stop.
	OnSendError func(err error)

	// OnVolume receives the smoothed input level from the meter loop.
	OnVolume func(level float64)

	QueueSize     int
	MeterInterval time.Duration
	Metrics       *metrics.Metrics
}

// Pipeline streams microphone frames to a channel while a session is live.
type Pipeline struct {
	cfg    PipelineConfig
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []byte
	meter  meter

	detached atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// StartPipeline starts the sender and meter loops and then the capture
// stream. The pipeline ends when ctx is cancelled or Stop is called.
func StartPipeline(ctx context.Context, cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Capturer == nil || cfg.Send == nil {
		return nil, errors.New("livetranslate: pipeline needs a capturer and a send func")
	}
	if cfg.Alive == nil {
		cfg.Alive = func() bool { return true }
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSendQueue
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = DefaultMeterInterval
	}

	p := &Pipeline{
		cfg:   cfg,
		queue: make(chan []byte, cfg.QueueSize),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.sendLoop()
	go p.meterLoop()

	if err := cfg.Capturer.Start(p.handleFrame); err != nil {
		p.cancel()
		p.wg.Wait()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	return p, nil
}

// Stop releases the capture stream and joins both loops. After Stop returns
// no further Send is made. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.detached.Store(true)
		p.cancel()
		if err := p.cfg.Capturer.Stop(); err != nil {
			slog.Debug("stop capture", "error", err)
		}
		p.wg.Wait()
	})
}

// handleFrame runs on the capture thread.
func (p *Pipeline) handleFrame(samples []float32) {
	if p.detached.Load() {
		return
	}
	if p.ctx.Err() != nil || !p.cfg.Alive() {
		// The session ended between capture and delivery. Stop emitting;
		// the controller releases the device.
		p.detached.Store(true)
		p.cfg.Metrics.FrameDropped()
		return
	}

	p.meter.observe(samples)

	select {
	case p.queue <- codec.EncodeFrame(samples):
	default:
		p.cfg.Metrics.FrameDropped()
	}
}

func (p *Pipeline) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case pcm := <-p.queue:
			if p.ctx.Err() != nil || !p.cfg.Alive() {
				p.cfg.Metrics.FrameDropped()
				return
			}
			if err := p.cfg.Send(p.ctx, pcm); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				slog.Debug("send audio frame", "error", err)
				p.cfg.Metrics.SendFailed()
				p.detached.Store(true)
				if p.cfg.OnSendError != nil {
					p.cfg.OnSendError(err)
				}
				return
			}
			p.cfg.Metrics.FrameSent()
		}
	}
}

func (p *Pipeline) meterLoop() {
	defer p.wg.Done()
	if p.cfg.OnVolume == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.MeterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cfg.OnVolume(p.meter.tick())
		}
	}
}
