package session

import "time"

// EventType names what changed in a session.
type EventType string

const (
	EventState     EventType = "state"
	EventMessage   EventType = "message"
	EventTick      EventType = "tick"
	EventControls  EventType = "controls"
	EventPlayback  EventType = "playback"
	EventNotice    EventType = "notice"
	EventRecording EventType = "recording"
)

// Event is a state-change notification. Seq increases by one per event within a session.
type Event struct {
	Seq              uint64    `json:"seq"`
	Type             EventType `json:"type"`
	SessionID        string    `json:"sessionId"`
	State            State     `json:"state"`
	Message          *Message  `json:"message,omitempty"`
	ElapsedSeconds   int       `json:"elapsedSeconds"`
	Muted            bool      `json:"muted"`
	SpeakerOn        bool      `json:"speakerOn"`
	Playing          string    `json:"playing,omitempty"`
	Recording        bool      `json:"recording"`
	RecordingSeconds int       `json:"recordingSeconds,omitempty"`
	Notice           string    `json:"notice,omitempty"`
	At               time.Time `json:"at"`
}

// Observer receives session events in commit order. OnEvent runs while the session
// holds its dispatch lock, so it must not call mutating session operations.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
