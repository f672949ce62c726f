// Package app wires configuration, the live controller, typed-text
// translation and the local UI bridge into one service.
package app

import "go.aimuz.me/parley/livetranslate"

// Event names for frontend communication. Live session notifications use the
// livetranslate names.
const (
	EventLiveStatus     = livetranslate.EventStatus
	EventLiveTranscript = livetranslate.EventTranscript
	EventLiveVolume     = livetranslate.EventVolume
	EventMessage        = livetranslate.EventMessage
	EventHistory        = "live:history"
	EventError          = "error"
)

// Command actions accepted from the frontend.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionText  = "text"
)

// Notification is one server→client frame.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Command is one client→server frame. Direction is "en-ru" style or one of
// "forward"/"backward"; empty means forward.
type Command struct {
	Action    string `json:"action"`
	Direction string `json:"direction,omitempty"`
	Text      string `json:"text,omitempty"`
}
