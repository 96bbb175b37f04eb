// Package audit persists outgoing user messages to a local SQLite trail.
// The trail is an audit record, not the delivery path: callers log and
// swallow failures here so the send pipeline proceeds regardless.
package audit
