// Package openai implements livetranslate channels on the OpenAI Realtime API
// over WebRTC. Microphone audio goes out as Opus on an RTP track; the spoken
// translation comes back the same way and is decoded to PCM16.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/livetranslate"
)

const (
	DefaultModel           = "gpt-realtime"
	DefaultTranscribeModel = "gpt-4o-mini-transcribe"

	// frameDuration is the Opus packet length written to the track.
	frameDuration = 20 * time.Millisecond
	// outputRate is the rate remote Opus is decoded at.
	outputRate = 24000
	// maxOpusPacket is the largest Opus packet.
	maxOpusPacket = 1275
)

// Sentinel errors.
var (
	ErrNotReady = errors.New("openai: channel not ready")
	ErrClosed   = errors.New("openai: channel closed")
)

// Config holds configuration for the dialer.
type Config struct {
	APIKey          string
	Model           string // Default: DefaultModel
	TranscribeModel string // Default: DefaultTranscribeModel
}

// Dialer opens Realtime sessions over WebRTC.
type Dialer struct {
	cfg Config
}

// NewDialer creates a dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	return &Dialer{cfg: cfg}, nil
}

// Dial creates an ephemeral session and completes the WebRTC handshake. The
// returned channel reports OpenEvent once the data channel is open and the
// session has been configured.
func (d *Dialer) Dial(ctx context.Context, cfg livetranslate.ChannelConfig) (livetranslate.Channel, error) {
	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = 16000
	}

	slog.Info("creating OpenAI realtime session", "model", d.cfg.Model)
	token, err := CreateSession(ctx, d.cfg.APIKey, SessionConfig{
		Model:        d.cfg.Model,
		Instructions: cfg.SystemInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Debug("session created", "expires", time.Unix(token.ExpiresAt, 0))

	c, err := newChannel(rate)
	if err != nil {
		return nil, err
	}
	c.update = newSessionUpdate(cfg, d.cfg.TranscribeModel)

	if err := c.connect(ctx, token.Value); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Channel is one WebRTC session.
type Channel struct {
	// ─── Hot path (audio encoding) ───────────────────────────────────────────
	sendMu      sync.Mutex
	opusEncoder *opuscodec.Encoder
	audioTrack  *webrtc.TrackLocalStaticSample
	framer      *audiocapture.Framer
	opusBuffer  []byte

	// ─── Event delivery ──────────────────────────────────────────────────────
	events    chan livetranslate.Event
	done      chan struct{}
	emitMu    sync.RWMutex
	finished  bool
	closeOnce sync.Once

	// ─── Cold path (connection state) ────────────────────────────────────────
	update         SessionUpdate
	peerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
}

func newChannel(inputRate int) (*Channel, error) {
	enc, err := opuscodec.NewEncoder(inputRate, 1, opuscodec.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &Channel{
		opusEncoder: enc,
		framer:      audiocapture.NewFramer(int(int64(inputRate) * int64(frameDuration) / int64(time.Second))),
		opusBuffer:  make([]byte, maxOpusPacket),
		events:      make(chan livetranslate.Event, 100),
		done:        make(chan struct{}),
	}, nil
}

func (c *Channel) connect(ctx context.Context, ephemeralKey string) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.peerConnection = pc

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"parley-mic",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err = pc.AddTrack(audioTrack); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}

	c.sendMu.Lock()
	c.audioTrack = audioTrack
	c.sendMu.Unlock()
	c.dataChannel = dc

	dc.OnOpen(c.handleOpen)
	dc.OnMessage(c.handleDataMessage)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go c.readRemoteAudio(track)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateFailed:
			c.emit(livetranslate.ErrorEvent{Err: fmt.Errorf("ICE connection %s", state)})
		case webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
			c.emit(livetranslate.CloseEvent{Reason: "ICE connection " + state.String()})
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return ctx.Err()
	}

	answerSDP, err := ExchangeSDP(ctx, pc.LocalDescription().SDP, ephemeralKey)
	if err != nil {
		return fmt.Errorf("exchange SDP: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *Channel) handleOpen() {
	data, err := json.Marshal(c.update)
	if err != nil {
		c.emit(livetranslate.ErrorEvent{Err: fmt.Errorf("marshal session update: %w", err)})
		return
	}
	if err := c.dataChannel.SendText(string(data)); err != nil {
		c.emit(livetranslate.ErrorEvent{Err: fmt.Errorf("send session update: %w", err)})
		return
	}
	slog.Debug("data channel opened", "voice", c.update.Session.Audio.Output.Voice)
	c.emit(livetranslate.OpenEvent{})
}

func (c *Channel) handleDataMessage(msg webrtc.DataChannelMessage) {
	event, err := ParseEvent(msg.Data)
	if err != nil {
		slog.Warn("failed to parse event", "error", err)
		return
	}
	if ev, ok := toLive(event); ok {
		c.emit(ev)
		return
	}
	slog.Debug("realtime event", "type", event.eventType())
}

func (c *Channel) readRemoteAudio(track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	dec, err := opuscodec.NewDecoder(outputRate, 1)
	if err != nil {
		c.emit(livetranslate.ErrorEvent{Err: fmt.Errorf("create opus decoder: %w", err)})
		return
	}

	pcm := make([]int16, outputRate*120/1000) // longest Opus frame
	mime := codec.MIMEType(outputRate)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			slog.Debug("opus decode", "error", err)
			continue
		}
		if !c.emit(livetranslate.AudioChunkEvent{Data: codec.Int16ToPCM16(pcm[:n]), MIMEType: mime}) {
			return
		}
	}
}

// Events implements livetranslate.Channel.
func (c *Channel) Events() <-chan livetranslate.Event {
	return c.events
}

// Send encodes PCM16 mono audio at the input rate into 20ms Opus packets.
// A trailing partial packet is held until the next call.
func (c *Channel) Send(ctx context.Context, pcm []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	samples, err := codec.PCM16ToInt16(pcm)
	if err != nil {
		return err
	}
	floats := make([]float32, len(samples))
	for i, s := range samples {
		floats[i] = float32(s) / 32768
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.audioTrack == nil {
		return ErrNotReady
	}

	var sendErr error
	c.framer.Write(floats, func(frame []float32) {
		if sendErr != nil {
			return
		}
		n, err := c.opusEncoder.EncodeFloat32(frame, c.opusBuffer)
		if err != nil {
			sendErr = fmt.Errorf("opus encode: %w", err)
			return
		}
		// WriteSample copies the data internally
		sendErr = c.audioTrack.WriteSample(media.Sample{
			Data:     c.opusBuffer[:n],
			Duration: frameDuration,
		})
	})
	return sendErr
}

// Close shuts down the peer connection and closes Events.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.peerConnection != nil {
			err = c.peerConnection.Close()
		}

		c.emitMu.Lock()
		c.finished = true
		close(c.events)
		c.emitMu.Unlock()
	})
	return err
}

// emit delivers ev unless the channel is closed.
func (c *Channel) emit(ev livetranslate.Event) bool {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.finished {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
