// ABOUTME: Message type plus clock and identity helpers for the chat transcript
// ABOUTME: Messages are immutable once appended; append order is transcript order

package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry in the chat transcript. It is never mutated
// after it has been appended to the log.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsSender  bool   `json:"is_sender"`
	Timestamp string `json:"timestamp"`
}

// NewChatID generates the conversation identifier for a session.
// It is created exactly once per session and never reused.
func NewChatID() string {
	return uuid.New().String()
}

// newMessageID generates a unique identifier for a transcript entry.
func newMessageID() string {
	return uuid.New().String()
}

// FormatClock renders a wall-clock time for message display, e.g. "9:07 PM".
func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}
