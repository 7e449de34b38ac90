// Package voice holds the stand-ins for speech synthesis and transcription. Both are
// named mock strategies: they never produce or read real audio.
package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/echoes/backend/internal/analysis/emotion"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
)

// SynthesisRequest asks for a remote-party line to be "spoken".
type SynthesisRequest struct {
	SessionID string
	MessageID string
	Text      string
	VoiceID   string
	UserText  string // the message being answered, used to pick a tone
}

// Playback describes how a line would be played back.
type Playback struct {
	MessageID string           `json:"messageId"`
	VoiceID   string           `json:"voiceId,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Tone      emotion.Decision `json:"tone"`
}

// Synthesizer turns text into a playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (Playback, error)
}

// Transcript is the text recovered from a recording.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec media.Recording) (Transcript, error)
}

// MockSynthesizer reports a fixed playback length and a keyword-derived tone.
type MockSynthesizer struct {
	Duration time.Duration
}

// NewMockSynthesizer returns a MockSynthesizer; a non-positive d means 3 s.
func NewMockSynthesizer(d time.Duration) *MockSynthesizer {
	if d <= 0 {
		d = 3 * time.Second
	}
	return &MockSynthesizer{Duration: d}
}

func (s *MockSynthesizer) Synthesize(_ context.Context, req SynthesisRequest) (Playback, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Playback{}, fmt.Errorf("nothing to synthesize for message %s", req.MessageID)
	}
	return Playback{
		MessageID: req.MessageID,
		VoiceID:   NormalizeVoiceID(req.VoiceID),
		Duration:  s.Duration,
		Tone:      emotion.Analyze(req.UserText, req.Text),
	}, nil
}

// PlaceholderTranscriber labels a recording instead of transcribing it.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(_ context.Context, rec media.Recording) (Transcript, error) {
	secs := int(rec.Duration.Round(time.Second) / time.Second)
	return Transcript{
		Text:       fmt.Sprintf("[voice message, %ds]", secs),
		Confidence: 0,
	}, nil
}

// NormalizeVoiceID lowercases and trims a voice id, defaulting to "default".
func NormalizeVoiceID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "default"
	}
	return id
}
