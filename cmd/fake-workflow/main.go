// ABOUTME: Local development backend emulating the external workflow engine
// ABOUTME: Accepts webhook sends and publishes replies on both the SSE stream and the change feed

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "listen address")
	replyDelay := flag.Duration("reply-delay", time.Second, "delay before publishing a reply")
	silent := flag.Bool("silent", false, "accept sends but never reply (exercises the fallback timer)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(newColorHandler(parseLevel(*logLevel)))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *replyDelay, *silent, logger); err != nil {
		logger.Error("fake-workflow failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, replyDelay time.Duration, silent bool, logger *slog.Logger) error {
	hub := newHub(logger)

	r := mux.NewRouter()
	r.HandleFunc("/webhook/conversar-com-bot", makeWebhookHandler(hub, replyDelay, silent, logger)).Methods(http.MethodPost)
	r.HandleFunc("/api/chat-response", hub.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/chat-feed", hub.handleFeed).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake-workflow listening",
			"addr", addr,
			"reply_delay", replyDelay,
			"silent", silent)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sendPayload matches the client's one-way webhook contract.
type sendPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"clientId"`
	ChatID    string `json:"chat_id"`
}

// makeWebhookHandler accepts a send and schedules the reply. The reply is
// published to every stream subscriber and to the feed subscribers of the
// sending conversation, deliberately duplicating delivery the way the real
// backend can.
func makeWebhookHandler(hub *hub, delay time.Duration, silent bool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p sendPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		logger.Info("webhook received", "chat_id", p.ChatID, "message", p.Message)
		w.WriteHeader(http.StatusOK)

		if silent {
			return
		}

		reply := fmt.Sprintf("Você disse: %q. Em que mais posso ajudar?", p.Message)
		time.AfterFunc(delay, func() {
			hub.publishStream(reply)
			hub.publishFeed(p.ChatID, feedNotification{
				Type:  "INSERT",
				Table: "chat",
				Record: feedRecord{
					ChatID:      p.ChatID,
					UserMessage: p.Message,
					AIMessage:   reply,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				},
			})
		})
	}
}

// feedRecord is the row shape carried by change-feed notifications.
type feedRecord struct {
	ChatID      string `json:"chat_id"`
	UserMessage string `json:"user_message"`
	AIMessage   string `json:"ai_message"`
	CreatedAt   string `json:"created_at"`
}

// feedNotification is one change-feed event.
type feedNotification struct {
	Type   string     `json:"type"`
	Table  string     `json:"table"`
	Record feedRecord `json:"record"`
}

// handleStream serves the SSE push-stream channel for one client.
func (h *hub) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, subID := h.subscribeStream(clientID)
	defer h.unsubscribeStream(subID)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case reply := <-ch:
			data, err := json.Marshal(map[string]string{"message": reply})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleFeed serves the WebSocket change feed, filtered by chat_id.
func (h *hub) handleFeed(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("feed accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "server shutdown")

	ch, subID := h.subscribeFeed(chatID)
	defer h.unsubscribeFeed(chatID, subID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
