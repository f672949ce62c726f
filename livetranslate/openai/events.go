package openai

import (
	"encoding/json"
	"errors"

	"go.aimuz.me/parley/livetranslate"
)

// Event types from OpenAI Realtime API.
const (
	EventSessionCreated     = "session.created"
	EventSessionUpdated     = "session.updated"
	EventInputDelta         = "conversation.item.input_audio_transcription.delta"
	EventOutputDelta        = "response.output_audio_transcript.delta"
	EventResponseDone       = "response.done"
	EventOutputAudioCleared = "output_audio_buffer.cleared"
	EventError              = "error"
)

// TurnDetection configures voice activity detection.
type TurnDetection struct {
	Type              string `json:"type"`
	Eagerness         string `json:"eagerness,omitempty"`
	CreateResponse    bool   `json:"create_response"`
	InterruptResponse bool   `json:"interrupt_response"`
}

// SessionUpdate is a client event to update session configuration.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// SessionParams is the session part of a session.update.
type SessionParams struct {
	Type             string      `json:"type"`
	Instructions     string      `json:"instructions,omitempty"`
	OutputModalities []string    `json:"output_modalities,omitempty"`
	Audio            AudioParams `json:"audio"`
}

// AudioParams configures both audio directions.
type AudioParams struct {
	Input struct {
		Transcription *struct {
			Model string `json:"model"`
		} `json:"transcription,omitempty"`
		TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
	} `json:"input"`
	Output struct {
		Voice string `json:"voice,omitempty"`
	} `json:"output"`
}

// newSessionUpdate builds the session.update sent when the data channel opens.
func newSessionUpdate(cfg livetranslate.ChannelConfig, transcribeModel string) SessionUpdate {
	u := SessionUpdate{Type: "session.update"}
	u.Session.Type = "realtime"
	u.Session.Instructions = cfg.SystemInstruction
	u.Session.OutputModalities = []string{string(cfg.ResponseModality)}
	if cfg.InputTranscription {
		u.Session.Audio.Input.Transcription = &struct {
			Model string `json:"model"`
		}{Model: transcribeModel}
	}
	u.Session.Audio.Input.TurnDetection = &TurnDetection{
		Type:              "semantic_vad",
		Eagerness:         "high",
		CreateResponse:    true,
		InterruptResponse: false,
	}
	u.Session.Audio.Output.Voice = cfg.Voice
	return u
}

// Event is a discriminated union for Realtime API events.
// Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// SessionEvent is emitted when the session is created or updated.
type SessionEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

func (e SessionEvent) eventType() string { return e.Type }

// InputDeltaEvent is a streaming transcript fragment of the user's speech.
type InputDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
}

func (InputDeltaEvent) eventType() string { return EventInputDelta }

// OutputDeltaEvent is a streaming transcript fragment of the spoken reply.
type OutputDeltaEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

func (OutputDeltaEvent) eventType() string { return EventOutputDelta }

// ResponseDoneEvent is emitted when the model finished a response.
type ResponseDoneEvent struct {
	EventID  string `json:"event_id"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

func (ResponseDoneEvent) eventType() string { return EventResponseDone }

// AudioClearedEvent is emitted when queued output audio was discarded.
type AudioClearedEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
}

func (AudioClearedEvent) eventType() string { return EventOutputAudioCleared }

// ErrorEvent is emitted when an API error occurs.
type ErrorEvent struct {
	EventID string `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
		Param   string `json:"param,omitempty"`
	} `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't recognize.
type UnknownEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseEvent unmarshals JSON into the appropriate Event type.
func ParseEvent(data []byte) (Event, error) {
	// Parse type field first.
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSessionCreated, EventSessionUpdated:
		return decode[SessionEvent](data)
	case EventInputDelta:
		return decode[InputDeltaEvent](data)
	case EventOutputDelta:
		return decode[OutputDeltaEvent](data)
	case EventResponseDone:
		return decode[ResponseDoneEvent](data)
	case EventOutputAudioCleared:
		return decode[AudioClearedEvent](data)
	case EventError:
		return decode[ErrorEvent](data)
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

func decode[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// toLive maps a Realtime event to the channel event it implies, if any.
func toLive(e Event) (livetranslate.Event, bool) {
	switch e := e.(type) {
	case InputDeltaEvent:
		if e.Delta == "" {
			return nil, false
		}
		return livetranslate.TranscriptDeltaEvent{Stream: livetranslate.StreamSource, Text: e.Delta}, true
	case OutputDeltaEvent:
		if e.Delta == "" {
			return nil, false
		}
		return livetranslate.TranscriptDeltaEvent{Stream: livetranslate.StreamTranslated, Text: e.Delta}, true
	case ResponseDoneEvent:
		return livetranslate.TurnCompleteEvent{}, true
	case AudioClearedEvent:
		return livetranslate.InterruptedEvent{}, true
	case ErrorEvent:
		msg := e.Error.Message
		if msg == "" {
			msg = e.Error.Type
		}
		return livetranslate.ErrorEvent{Err: errors.New("openai realtime: " + msg)}, true
	default:
		return nil, false
	}
}
