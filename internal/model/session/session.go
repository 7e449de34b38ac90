package session

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a session. It only moves forward.
type State string

const (
	Connecting State = "connecting"
	Active     State = "active"
	Ended      State = "ended"
)

func (s State) rank() int {
	switch s {
	case Connecting:
		return 0
	case Active:
		return 1
	case Ended:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s State) CanTransition(next State) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

// Variant selects the call or chat flavour of a session.
type Variant string

const (
	Call Variant = "call"
	Chat Variant = "chat"
)

// ParseVariant accepts "call" or "chat"; empty means call.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case "", Call:
		return Call, true
	case Chat:
		return Chat, true
	default:
		return "", false
	}
}

// Party is the display identity of the simulated relative, the remote party.
type Party struct {
	ProfileID string `json:"profileId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	VoiceID   string `json:"voiceId,omitempty"`
}

// Snapshot is a read-only copy of a session's state. Seq is the last event folded into it.
type Snapshot struct {
	ID               string      `json:"id"`
	Seq              uint64      `json:"seq"`
	Variant          Variant     `json:"variant"`
	State            State       `json:"state"`
	Party            Party       `json:"party"`
	CreatedAt        time.Time   `json:"createdAt"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	EndedAt          *time.Time  `json:"endedAt,omitempty"`
	ElapsedSeconds   int         `json:"elapsedSeconds"`
	Transcript       []Message   `json:"transcript"`
	Muted            bool        `json:"muted"`
	SpeakerOn        bool        `json:"speakerOn"`
	Recording        bool        `json:"recording"`
	RecordingSeconds int         `json:"recordingSeconds"`
	Playing          string      `json:"playing,omitempty"`
}

// Elapsed renders ElapsedSeconds as MM:SS.
func (s Snapshot) Elapsed() string {
	return FormatElapsed(s.ElapsedSeconds)
}

// FormatElapsed renders seconds as zero-padded MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
