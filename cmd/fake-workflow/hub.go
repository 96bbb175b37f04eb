// ABOUTME: Subscriber hub for the fake backend's two reply channels
// ABOUTME: Streams fan out to every client; feed events fan out per chat_id

package main

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

type streamSub struct {
	clientID string
	ch       chan string
}

// hub tracks SSE and change-feed subscribers.
type hub struct {
	mu      sync.RWMutex
	streams map[string]*streamSub                       // subID -> subscriber
	feeds   map[string]map[string]chan feedNotification // chatID -> subID -> ch
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		streams: make(map[string]*streamSub),
		feeds:   make(map[string]map[string]chan feedNotification),
		logger:  logger.With("component", "hub"),
	}
}

func (h *hub) subscribeStream(clientID string) (<-chan string, string) {
	subID := uuid.New().String()
	sub := &streamSub{clientID: clientID, ch: make(chan string, subscriberBuffer)}

	h.mu.Lock()
	h.streams[subID] = sub
	h.mu.Unlock()

	h.logger.Info("stream client connected", "client_id", clientID)
	return sub.ch, subID
}

func (h *hub) unsubscribeStream(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.streams[subID]; ok {
		delete(h.streams, subID)
		h.logger.Info("stream client disconnected", "client_id", sub.clientID)
	}
}

// publishStream sends a reply to every connected stream client. The stream
// channel has no conversation correlation; replies go to everyone.
func (h *hub) publishStream(reply string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.streams {
		select {
		case sub.ch <- reply:
		default:
			h.logger.Debug("dropped stream reply for slow client", "client_id", sub.clientID)
		}
	}
}

func (h *hub) subscribeFeed(chatID string) (<-chan feedNotification, string) {
	subID := uuid.New().String()
	ch := make(chan feedNotification, subscriberBuffer)

	h.mu.Lock()
	if _, ok := h.feeds[chatID]; !ok {
		h.feeds[chatID] = make(map[string]chan feedNotification)
	}
	h.feeds[chatID][subID] = ch
	h.mu.Unlock()

	h.logger.Info("feed subscriber added", "chat_id", chatID)
	return ch, subID
}

func (h *hub) unsubscribeFeed(chatID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.feeds[chatID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.feeds, chatID)
	}
	h.logger.Info("feed subscriber removed", "chat_id", chatID)
}

// publishFeed sends an insert notification to the subscribers of one
// conversation.
func (h *hub) publishFeed(chatID string, n feedNotification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.feeds[chatID] {
		select {
		case ch <- n:
		default:
			h.logger.Debug("dropped feed event for slow subscriber", "chat_id", chatID)
		}
	}
}
