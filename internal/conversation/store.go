// ABOUTME: Conversation state store owning the transcript, pending queue and loading flag
// ABOUTME: Single source of truth; every other component mutates chat state only through it

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openfloor/chatrelay/internal/dedupe"
)

// dupeWindow bounds how long a delivered reply suppresses an identical
// duplicate arriving on the other channel.
const dupeWindow = 30 * time.Second

// Store owns the message transcript, the pending-send queue and the loading
// flag. It enforces single-flight dispatch: at most one outgoing message is
// awaiting a reply at any time, all others wait in FIFO order.
//
// The in-flight generation counter identifies which dispatch a fallback
// belongs to. Resolvers capture the generation at arm time; a stale
// generation makes the resolution a no-op, so a late timer can never
// apologize for a message that already resolved or cross-talk into a later
// exchange.
type Store struct {
	mu       sync.Mutex
	chatID   string
	messages []Message
	queue    []string
	loading  bool
	gen      uint64

	changed chan struct{}
	bcast   *Broadcaster
	dupes   *dedupe.Cache
	logger  *slog.Logger
}

// New creates a Store for a fresh conversation session. A non-empty greeting
// seeds the transcript with an assistant message so the view is never empty.
// Pass nil logger for default.
func New(greeting string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		chatID:  NewChatID(),
		changed: make(chan struct{}, 1),
		bcast:   NewBroadcaster(logger),
		dupes:   dedupe.New(dupeWindow),
		logger:  logger.With("component", "conversation"),
	}
	if greeting != "" {
		s.append(Message{
			ID:        newMessageID(),
			Text:      greeting,
			IsSender:  false,
			Timestamp: FormatClock(time.Now()),
		})
	}
	s.logger.Debug("conversation started", "chat_id", s.chatID)
	return s
}

// ChatID returns the session's conversation identifier. It is generated once
// at construction and used as the correlation key for the outbound webhook
// and the change-feed subscription filter.
func (s *Store) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Messages returns a copy of the transcript in append order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Loading reports whether a dispatched message is currently awaiting a reply.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// QueueLen returns the number of texts waiting behind the in-flight message.
func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// EnqueueOutgoing appends text to the pending queue and immediately echoes
// it into the transcript as a sender message, so the user sees their own
// message without waiting for any network round trip.
func (s *Store) EnqueueOutgoing(text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:        newMessageID(),
		Text:      text,
		IsSender:  true,
		Timestamp: FormatClock(time.Now()),
	}
	s.append(msg)
	s.queue = append(s.queue, text)
	s.notifyLocked()
	return msg
}

// BeginDispatch pops the queue head and marks it in flight. It returns
// ok=false when the queue is empty or another message is already awaiting a
// reply. Popping and setting the loading flag are a single atomic step, so a
// re-entrant drain can never double-dispatch.
//
// The returned generation identifies this dispatch for ResolveFallback.
func (s *Store) BeginDispatch() (text string, gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading || len(s.queue) == 0 {
		return "", 0, false
	}
	text = s.queue[0]
	s.queue = s.queue[1:]
	s.loading = true
	s.gen++
	s.logger.Debug("message in flight", "generation", s.gen, "queued", len(s.queue))
	return text, s.gen, true
}

// ApplyReply appends an assistant reply to the transcript and clears the
// loading flag. Clearing is idempotent: a second delivery of the same
// logical reply on the other channel is not an error. A byte-identical
// duplicate within the dedupe window is dropped entirely; the bool reports
// whether the message was appended.
func (s *Store) ApplyReply(text string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dupes.CheckAndMark(fmt.Sprintf("%d|%s", s.gen, text)) {
		s.logger.Debug("duplicate reply suppressed", "generation", s.gen)
		if s.loading {
			s.loading = false
			s.notifyLocked()
		}
		return Message{}, false
	}

	msg := Message{
		ID:        newMessageID(),
		Text:      text,
		IsSender:  false,
		Timestamp: FormatClock(time.Now()),
	}
	s.append(msg)
	s.loading = false
	s.notifyLocked()
	return msg, true
}

// ResolveFallback appends a synthesized apology and clears the loading flag,
// but only if the dispatch identified by gen is still the one in flight.
// Returns true if the fallback was applied. Stale generations and
// already-resolved dispatches are no-ops.
func (s *Store) ResolveFallback(gen uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loading || s.gen != gen {
		return false
	}
	s.append(Message{
		ID:        newMessageID(),
		Text:      text,
		IsSender:  false,
		Timestamp: FormatClock(time.Now()),
	})
	s.loading = false
	s.notifyLocked()
	return true
}

// Changed returns a coalesced wake-up channel. It receives after any state
// change relevant to the dispatcher's drain check: a new enqueue or a
// cleared loading flag.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// Subscribe registers a transcript subscriber; every appended Message is
// delivered on the returned channel. The subscription is released when ctx
// is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan Message, string) {
	return s.bcast.Subscribe(ctx)
}

// Close releases the broadcaster and the dedupe cache.
func (s *Store) Close() {
	s.bcast.Close()
	s.dupes.Close()
}

// append adds msg to the transcript and publishes it to subscribers.
// Must be called with mu held.
func (s *Store) append(msg Message) {
	s.messages = append(s.messages, msg)
	s.bcast.Publish(msg)
}

// notifyLocked signals Changed without blocking. Must be called with mu held.
func (s *Store) notifyLocked() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
