// Package feed implements the change-feed reply channel: a WebSocket
// subscription to insert notifications on the shared chat table, filtered
// server-side by conversation id. Rows carrying a populated ai_message
// field are treated as assistant replies.
//
// The feed does not retry on its own; the push-stream channel and the
// fallback timer bound the worst case.
package feed
