// ABOUTME: Change-feed reply listener: a WebSocket subscription to row-insert notifications
// ABOUTME: Rows carrying a populated ai_message field are applied as assistant replies

package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"

	"github.com/coder/websocket"

	"github.com/openfloor/chatrelay/internal/conversation"
)

// ReplySink is the surface the listener needs from the conversation store.
type ReplySink interface {
	ApplyReply(text string) (conversation.Message, bool)
}

// Record is the row shape carried by insert notifications on the shared
// chat table.
type Record struct {
	ChatID      string `json:"chat_id"`
	UserMessage string `json:"user_message"`
	AIMessage   string `json:"ai_message"`
	CreatedAt   string `json:"created_at"`
}

// Notification is one change-feed event. Only INSERT events with a
// populated ai_message qualify as replies.
type Notification struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Record Record `json:"record"`
}

// Listener subscribes to insert notifications filtered by conversation id
// and feeds qualifying rows into the conversation store.
type Listener struct {
	url    string
	chatID string
	sink   ReplySink
	logger *slog.Logger
}

// New creates a Listener for the given conversation id. The id must exist
// before subscribing; it is the server-side filter key. Pass nil logger
// for default.
func New(feedURL, chatID string, sink ReplySink, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:    feedURL,
		chatID: chatID,
		sink:   sink,
		logger: logger.With("component", "feed"),
	}
}

// Run subscribes and consumes notifications until ctx is cancelled or the
// subscription drops. This channel does not independently retry: the
// push-stream listener and the fallback timer remain the safety net, so
// errors are logged and Run simply returns.
func (l *Listener) Run(ctx context.Context) {
	feedURL, err := l.buildURL()
	if err != nil {
		l.logger.Error("invalid feed url", "error", err, "url", l.url)
		return
	}

	conn, _, err := websocket.Dial(ctx, feedURL, nil)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("feed subscription failed", "error", err, "chat_id", l.chatID)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "teardown")

	l.logger.Info("change feed subscribed", "chat_id", l.chatID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("feed subscription ended", "error", err, "chat_id", l.chatID)
			}
			return
		}
		l.handleNotification(data)
	}
}

// handleNotification applies one change-feed event. Non-insert events,
// rows for other conversations and rows without an assistant reply are
// ignored; a malformed frame is logged and discarded without touching the
// loading flag.
func (l *Listener) handleNotification(data []byte) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		l.logger.Warn("ignoring malformed feed notification", "error", err)
		return
	}
	if n.Type != "INSERT" {
		return
	}
	if n.Record.ChatID != "" && n.Record.ChatID != l.chatID {
		// Rows for other conversations must never resolve this one.
		return
	}
	if n.Record.AIMessage == "" {
		// User-message inserts flow through the same table.
		return
	}

	msg, applied := l.sink.ApplyReply(n.Record.AIMessage)
	if applied {
		l.logger.Debug("reply applied from change feed", "message_id", msg.ID)
	}
}

// buildURL appends the chat_id filter to the configured URL.
func (l *Listener) buildURL() (string, error) {
	u, err := url.Parse(l.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("chat_id", l.chatID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
