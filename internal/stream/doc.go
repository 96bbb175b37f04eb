// Package stream implements the push-stream reply channel: a long-lived
// server-sent-events connection scoped to a locally generated client id.
//
// The listener runs an explicit reconnect state machine (Disconnected,
// Connecting, Connected, Backoff) with a fixed backoff and a bounded
// attempt budget. The counter resets only on a fully successful
// connection. When the budget is exhausted the listener stops silently
// and the change-feed channel plus the fallback timer remain the safety
// net. A dead stream must never crash or hang the client.
package stream
