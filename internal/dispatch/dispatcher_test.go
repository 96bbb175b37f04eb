// ABOUTME: Tests for the outbound dispatcher and fallback timer
// ABOUTME: Covers webhook delivery, transport failure apologies, deadline fallback and single flight

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/chatrelay/internal/config"
	"github.com/openfloor/chatrelay/internal/conversation"
)

type recordingAudit struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *recordingAudit) RecordUserMessage(_ context.Context, _ string, text string, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, text)
	return a.err
}

func (a *recordingAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// webhookRecorder counts webhook hits and captures the decoded payloads.
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []map[string]string
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(req.Body).Decode(&p)
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (r *webhookRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *webhookRecorder) payload(i int) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[i]
}

func newTestDispatcher(store *conversation.Store, audit AuditStore, webhookURL string, deadline time.Duration) *Dispatcher {
	return New(store, audit, Options{
		WebhookURL:       webhookURL,
		WebhookTimeout:   2 * time.Second,
		FallbackDeadline: deadline,
		ApologyDispatch:  config.DefaultApologyDispatch,
		ApologyTimeout:   config.DefaultApologyTimeout,
	}, nil)
}

func lastMessage(store *conversation.Store) conversation.Message {
	msgs := store.Messages()
	return msgs[len(msgs)-1]
}

func TestDispatcher_SendsWebhookAndAwaitsReply(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := newTestDispatcher(store, nil, srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("hello")

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	p := rec.payload(0)
	assert.Equal(t, "hello", p["message"])
	assert.Equal(t, store.ChatID(), p["chat_id"])
	assert.NotEmpty(t, p["timestamp"])

	// Dispatch success must not clear the loading flag; a reply does.
	assert.True(t, store.Loading())
	store.ApplyReply("oi")
	assert.False(t, store.Loading())
}

func TestDispatcher_TransportFailureApologizesImmediately(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	d := newTestDispatcher(store, nil, srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("hello")

	require.Eventually(t, func() bool {
		return !store.Loading() && len(store.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, config.DefaultApologyDispatch, lastMessage(store).Text)
}

func TestDispatcher_FallbackFiresExactlyOnceAtDeadline(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	deadline := 50 * time.Millisecond
	d := newTestDispatcher(store, nil, srv.URL, deadline)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	start := time.Now()
	store.EnqueueOutgoing("hello")

	require.Eventually(t, func() bool { return !store.Loading() && len(store.Messages()) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), deadline)
	assert.Equal(t, config.DefaultApologyTimeout, lastMessage(store).Text)

	// No second apology after the first.
	time.Sleep(3 * deadline)
	assert.Len(t, store.Messages(), 2)
}

func TestDispatcher_FallbackCancelledByReply(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	deadline := 100 * time.Millisecond
	d := newTestDispatcher(store, nil, srv.URL, deadline)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("hello")
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	store.ApplyReply("oi")

	time.Sleep(3 * deadline)
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "oi", msgs[1].Text)
}

func TestDispatcher_BackToBackEnqueuesStaySingleFlight(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := newTestDispatcher(store, nil, srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("first")
	store.EnqueueOutgoing("second")

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The second send must not dispatch while the first is in flight.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "first", rec.payload(0)["message"])

	store.ApplyReply("reply to first")

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "second", rec.payload(1)["message"])
}

func TestDispatcher_AuditFailureDoesNotBlockPipeline(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	audit := &recordingAudit{err: assert.AnError}
	d := newTestDispatcher(store, audit, srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("hello")

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, audit.count())
	assert.True(t, store.Loading())
}

func TestDispatcher_AuditRecordsOutgoingText(t *testing.T) {
	store := conversation.New("", nil)
	defer store.Close()

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	audit := &recordingAudit{}
	d := newTestDispatcher(store, audit, srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	store.EnqueueOutgoing("para o histórico")

	require.Eventually(t, func() bool { return audit.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	audit.mu.Lock()
	assert.Equal(t, "para o histórico", audit.calls[0])
	audit.mu.Unlock()
}
