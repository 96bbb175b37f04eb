// ABOUTME: Push-stream reply listener: a long-lived SSE connection keyed by client id
// ABOUTME: Bounded reconnection with fixed backoff; malformed payloads are logged and ignored

package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfloor/chatrelay/internal/conversation"
)

// ReplySink is the surface the listener needs from the conversation store.
type ReplySink interface {
	ApplyReply(text string) (conversation.Message, bool)
}

// State is the connection state of the listener's reconnect machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Listener.
type Options struct {
	// URL is the stream endpoint; the client id is appended as a query
	// parameter.
	URL string
	// Backoff is the fixed delay between reconnection attempts.
	Backoff time.Duration
	// MaxReconnects caps consecutive failed attempts. After the cap the
	// listener stops silently; the change-feed channel and the fallback
	// timer remain the safety net.
	MaxReconnects int
	// Client overrides the HTTP client. It must not carry a request
	// timeout: the connection is long-lived and cancelled via context.
	Client *http.Client
}

// payload is the expected event shape. Any other shape is ignored.
type payload struct {
	Message string `json:"message"`
}

// Listener maintains the push-stream connection and feeds decoded replies
// into the conversation store.
type Listener struct {
	opts     Options
	clientID string
	sink     ReplySink
	client   *http.Client
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Listener with a freshly generated client identifier. The
// client id is independent of the conversation id; it only scopes the
// stream connection. Pass nil logger for default.
func New(opts Options, sink ReplySink, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Listener{
		opts:     opts,
		clientID: uuid.New().String(),
		sink:     sink,
		client:   client,
		logger:   logger.With("component", "stream"),
	}
}

// ClientID returns the generated client identifier.
func (l *Listener) ClientID() string {
	return l.clientID
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run connects and consumes events until ctx is cancelled or the
// reconnection budget is exhausted. It never returns an error to the
// caller: after the cap the listener degrades silently.
func (l *Listener) Run(ctx context.Context) {
	defer l.setState(StateDisconnected)

	attempts := 0
	for {
		l.setState(StateConnecting)
		connected := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A full session happened; the attempt counter resets
			// only on success so flapping still hits the cap.
			attempts = 0
		}

		attempts++
		if attempts > l.opts.MaxReconnects {
			l.logger.Warn("reconnect budget exhausted, stream listener stopping",
				"attempts", attempts-1,
				"client_id", l.clientID)
			return
		}

		l.setState(StateBackoff)
		l.logger.Debug("stream disconnected, backing off",
			"attempt", attempts,
			"backoff", l.opts.Backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.opts.Backoff):
		}
	}
}

// connectAndRead opens the stream and consumes events until the connection
// drops. Returns true if the connection was established.
func (l *Listener) connectAndRead(ctx context.Context) bool {
	streamURL, err := l.buildURL()
	if err != nil {
		l.logger.Error("invalid stream url", "error", err, "url", l.opts.URL)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		l.logger.Error("building stream request", "error", err)
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Debug("stream connect failed", "error", err)
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.logger.Debug("stream endpoint refused connection", "status", resp.StatusCode)
		return false
	}

	l.setState(StateConnected)
	l.logger.Info("stream connected", "client_id", l.clientID)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				l.handleEvent(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Keepalive comment
		default:
			// event:/id:/retry: fields carry nothing we match on.
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		l.logger.Debug("stream read ended", "error", err)
	}
	return true
}

// handleEvent decodes one event payload and applies it as a reply. An
// unparseable or empty payload must not be mistaken for this request's
// reply, so it is logged and discarded without touching the loading flag.
func (l *Listener) handleEvent(data string) {
	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		l.logger.Warn("ignoring malformed stream payload", "error", err)
		return
	}
	if p.Message == "" {
		l.logger.Debug("ignoring stream event without message field")
		return
	}

	msg, applied := l.sink.ApplyReply(p.Message)
	if applied {
		l.logger.Debug("reply applied from stream", "message_id", msg.ID)
	}
}

// buildURL appends the clientId query parameter to the configured URL.
func (l *Listener) buildURL() (string, error) {
	u, err := url.Parse(l.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("clientId", l.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
