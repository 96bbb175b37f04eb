// Package dispatch drains the conversation store's pending queue and
// delivers each text to the external workflow webhook, one at a time.
//
// The webhook is a fire-and-forget endpoint: its response cannot be read,
// so the dispatcher never clears the loading flag on success. Resolution
// comes from the reply listeners or from the per-message fallback timer
// armed here. A generation counter captured at dispatch time guards the
// timer so a stale fire can never apologize for the wrong message.
package dispatch
