package livetranslate

import "context"

// Modality is the kind of response requested from the engine.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// ChannelConfig is sent once when a channel is opened.
type ChannelConfig struct {
	ResponseModality    Modality
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
	InputSampleRate     int // rate of the PCM16 passed to Send
}

// Channel is one open streaming connection to a translation engine.
//
// Events is closed after the channel shuts down for any reason. Close is
// idempotent and may be called concurrently with Send.
type Channel interface {
	Events() <-chan Event
	Send(ctx context.Context, pcm []byte) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, cfg ChannelConfig) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg ChannelConfig) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, cfg ChannelConfig) (Channel, error) {
	return f(ctx, cfg)
}
