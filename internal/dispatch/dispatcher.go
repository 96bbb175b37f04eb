// ABOUTME: Outbound dispatcher draining the pending queue one message at a time
// ABOUTME: Audit-persists, fires the one-way webhook and arms the per-message fallback timer

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// auditTimeout bounds the best-effort audit write so a stalled database
// cannot hold up the delivery pipeline.
const auditTimeout = 5 * time.Second

// ChatState is the surface the dispatcher needs from the conversation store.
type ChatState interface {
	ChatID() string
	BeginDispatch() (text string, gen uint64, ok bool)
	ResolveFallback(gen uint64, text string) bool
	Changed() <-chan struct{}
}

// AuditStore records outgoing messages for the audit trail.
type AuditStore interface {
	RecordUserMessage(ctx context.Context, chatID, text string, at time.Time) error
}

// Options configures a Dispatcher.
type Options struct {
	// WebhookURL is the one-way workflow endpoint.
	WebhookURL string
	// WebhookTimeout bounds each outbound request.
	WebhookTimeout time.Duration
	// FallbackDeadline is the maximum wait for a reply before a
	// synthesized apology resolves the in-flight message.
	FallbackDeadline time.Duration
	// ApologyDispatch is appended when the webhook request itself fails.
	ApologyDispatch string
	// ApologyTimeout is appended when no reply arrives within the deadline.
	ApologyTimeout string
	// Client overrides the HTTP client. Nil means a default client.
	Client *http.Client
}

// Dispatcher serializes delivery of queued texts to the workflow webhook.
// It wakes on every store change, pops the queue head when nothing is in
// flight, and leaves resolution to the reply listeners or the fallback
// timer it arms per dispatch.
type Dispatcher struct {
	state    ChatState
	audit    AuditStore // nil disables the audit trail
	opts     Options
	client   *http.Client
	logger   *slog.Logger
	fallback *time.Timer // timer for the current in-flight message
}

// New creates a Dispatcher. audit may be nil and logger may be nil.
func New(state ChatState, audit AuditStore, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.WebhookTimeout}
	}
	return &Dispatcher{
		state:  state,
		audit:  audit,
		opts:   opts,
		client: client,
		logger: logger.With("component", "dispatch"),
	}
}

// webhookPayload is the one-way send contract. No response body is
// consumed; delivery success is inferred from the absence of a
// transport-level error.
type webhookPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"clientId"`
	ChatID    string `json:"chat_id"`
}

// Run drains the queue until ctx is cancelled. It blocks and is normally
// started in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			d.stopFallback()
			return
		case <-d.state.Changed():
		}
	}
}

// drain dispatches queue items until the queue is empty or a message is in
// flight. BeginDispatch enforces single flight, so looping here is safe.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		text, gen, ok := d.state.BeginDispatch()
		if !ok {
			return
		}
		// The previous in-flight message has resolved; its timer is
		// dead weight now.
		d.stopFallback()
		d.dispatch(ctx, text, gen)
	}
}

// dispatch runs one processing attempt for an in-flight message.
func (d *Dispatcher) dispatch(ctx context.Context, text string, gen uint64) {
	chatID := d.state.ChatID()
	now := time.Now()

	// Audit trail first, best effort. Failure is logged and swallowed:
	// the backing store is an audit record, not the delivery path.
	if d.audit != nil {
		auditCtx, cancel := context.WithTimeout(ctx, auditTimeout)
		if err := d.audit.RecordUserMessage(auditCtx, chatID, text, now); err != nil {
			d.logger.Error("audit persist failed", "error", err, "chat_id", chatID)
		}
		cancel()
	}

	if err := d.send(ctx, chatID, text, now); err != nil {
		// Transport failure is terminal for this attempt: apologize
		// immediately and let the next queued item proceed.
		d.logger.Error("webhook dispatch failed", "error", err, "chat_id", chatID)
		d.state.ResolveFallback(gen, d.opts.ApologyDispatch)
		return
	}

	d.logger.Debug("message dispatched, awaiting reply",
		"chat_id", chatID,
		"generation", gen)

	// Bound the wait. The generation guard makes a fire after
	// resolution a no-op rather than a duplicate apology.
	d.fallback = time.AfterFunc(d.opts.FallbackDeadline, func() {
		if d.state.ResolveFallback(gen, d.opts.ApologyTimeout) {
			d.logger.Warn("no reply within deadline, fallback applied",
				"chat_id", chatID,
				"generation", gen,
				"deadline", d.opts.FallbackDeadline)
		}
	})
}

// send fires the one-way webhook request. The transport cannot yield a
// readable result, so the response body and status are discarded and only
// a network-level error counts as failure.
func (d *Dispatcher) send(ctx context.Context, chatID, text string, now time.Time) error {
	payload := webhookPayload{
		Message:   text,
		Timestamp: now.UTC().Format(time.RFC3339),
		ClientID:  chatID,
		ChatID:    chatID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.opts.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	d.logger.Debug("webhook accepted request", "status", resp.StatusCode)
	return nil
}

// stopFallback cancels the current fallback timer, if any.
func (d *Dispatcher) stopFallback() {
	if d.fallback != nil {
		d.fallback.Stop()
		d.fallback = nil
	}
}
