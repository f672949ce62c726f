package livetranslate

import "fmt"

// Stream identifies which of the two transcripts a delta extends.
type Stream int

const (
	StreamSource     Stream = iota // what the speaker said
	StreamTranslated               // what the engine spoke back
)

func (s Stream) String() string {
	switch s {
	case StreamSource:
		return "source"
	case StreamTranslated:
		return "translated"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Event is a discriminated union of everything a Channel delivers.
// Check the concrete type via type switch.
type Event interface {
	eventName() string
}

// OpenEvent is delivered once, when the remote side is ready for audio.
type OpenEvent struct{}

func (OpenEvent) eventName() string { return "open" }

// AudioChunkEvent carries raw PCM16 synthesized speech.
type AudioChunkEvent struct {
	Data     []byte
	MIMEType string // e.g. "audio/pcm;rate=24000"
}

func (AudioChunkEvent) eventName() string { return "audio" }

// TranscriptDeltaEvent is an incremental transcript fragment.
type TranscriptDeltaEvent struct {
	Stream Stream
	Text   string
}

func (TranscriptDeltaEvent) eventName() string { return "transcript" }

// TurnCompleteEvent marks the end of one exchange.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventName() string { return "turn_complete" }

// InterruptedEvent reports that the engine abandoned its current reply.
// Queued playback should be dropped; the session continues.
type InterruptedEvent struct{}

func (InterruptedEvent) eventName() string { return "interrupted" }

// ErrorEvent is a fatal channel error.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) eventName() string { return "error" }

// CloseEvent reports that the remote side closed the channel.
type CloseEvent struct {
	Reason string
}

func (CloseEvent) eventName() string { return "close" }
