// Package conversation owns the client-side chat state: the message
// transcript, the pending-send queue and the loading flag.
//
// # Store
//
// The Store is the single source of truth. Every other component (the
// outbound dispatcher, both reply listeners, the fallback timer and the
// view) receives the Store by injection and mutates chat state only
// through its methods.
//
// Key operations:
//
//   - EnqueueOutgoing(text): queue a send and echo it into the transcript
//   - BeginDispatch(): atomically pop the queue head and mark it in flight
//   - ApplyReply(text): append an assistant reply and clear the loading flag
//   - ResolveFallback(gen, text): generation-guarded apology append
//
// # Single flight
//
// At most one outgoing message awaits a reply at any time. BeginDispatch
// fuses the queue pop with setting the loading flag, so concurrent drain
// checks can never double-dispatch. Resolution (real reply or fallback)
// clears the flag and wakes the dispatcher via Changed().
//
// # Duplicate delivery
//
// The two reply channels are uncorrelated and may both deliver the same
// logical reply. ApplyReply is idempotent with respect to the loading flag,
// and byte-identical duplicates within a short window are suppressed.
package conversation
