// Package gemini implements livetranslate channels on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"go.aimuz.me/parley/codec"
	"go.aimuz.me/parley/livetranslate"
)

// DefaultModel is the native-audio Live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// ErrClosed is returned by Send after the channel is closed.
var ErrClosed = errors.New("gemini: channel closed")

// Config holds configuration for the Gemini Live dialer.
type Config struct {
	APIKey string
	Model  string // Default: DefaultModel
}

// Dialer opens Gemini Live sessions.
type Dialer struct {
	client *genai.Client
	model  string
}

// NewDialer creates a dialer backed by a Gemini API client.
func NewDialer(ctx context.Context, cfg Config) (*Dialer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Dialer{client: client, model: cfg.Model}, nil
}

// Dial connects a Live session configured from cfg.
func (d *Dialer) Dial(ctx context.Context, cfg livetranslate.ChannelConfig) (livetranslate.Channel, error) {
	sess, err := d.client.Live.Connect(ctx, d.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}
	slog.Debug("gemini live session connected", "model", d.model, "voice", cfg.Voice)
	return newChannel(sess, cfg.InputSampleRate), nil
}

func connectConfig(cfg livetranslate.ChannelConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.ResponseModality == livetranslate.ModalityText {
		lc.ResponseModalities = []genai.Modality{genai.ModalityText}
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// liveSession is the subset of *genai.Session the channel uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type channel struct {
	sess     liveSession
	mimeType string
	events   chan livetranslate.Event
	done     chan struct{}

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func newChannel(sess liveSession, inputRate int) *channel {
	if inputRate <= 0 {
		inputRate = 16000
	}
	c := &channel{
		sess:     sess,
		mimeType: codec.MIMEType(inputRate),
		events:   make(chan livetranslate.Event, 32),
		done:     make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

func (c *channel) Events() <-chan livetranslate.Event { return c.events }

func (c *channel) Send(ctx context.Context, pcm []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: c.mimeType},
	})
}

func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sess.Close()
	})
	return err
}

func (c *channel) receiveLoop() {
	defer close(c.events)

	opened := false
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.emit(receiveError(err))
			return
		}

		if !opened {
			opened = true
			if !c.emit(livetranslate.OpenEvent{}) {
				return
			}
		}
		if msg.GoAway != nil {
			slog.Info("gemini live session going away", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range messageEvents(msg) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

// emit delivers ev unless the channel was closed.
func (c *channel) emit(ev livetranslate.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// receiveError maps a read failure to the event that ends the session.
func receiveError(err error) livetranslate.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := ce.Text
		if reason == "" {
			reason = fmt.Sprintf("websocket close %d", ce.Code)
		}
		return livetranslate.CloseEvent{Reason: reason}
	}
	return livetranslate.ErrorEvent{Err: fmt.Errorf("receive: %w", err)}
}

// messageEvents flattens one server message into events, in the order audio,
// input transcript, output transcript, interruption, turn end.
func messageEvents(msg *genai.LiveServerMessage) []livetranslate.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var out []livetranslate.Event
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			out = append(out, livetranslate.AudioChunkEvent{
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
			})
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, livetranslate.TranscriptDeltaEvent{
			Stream: livetranslate.StreamSource,
			Text:   sc.InputTranscription.Text,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, livetranslate.TranscriptDeltaEvent{
			Stream: livetranslate.StreamTranslated,
			Text:   sc.OutputTranscription.Text,
		})
	}
	if sc.Interrupted {
		out = append(out, livetranslate.InterruptedEvent{})
	}
	if sc.TurnComplete {
		out = append(out, livetranslate.TurnCompleteEvent{})
	}
	return out
}
