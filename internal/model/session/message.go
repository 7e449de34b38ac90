package session

import "time"

// Sender identifies who produced a transcript entry.
type Sender string

const (
	User   Sender = "user"
	Remote Sender = "remote"
)

// Message is one transcript entry. Entries are never edited once appended.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsVoice   bool      `json:"isVoice,omitempty"`
}
