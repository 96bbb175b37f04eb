// Package dedupe provides a time-based cache used to suppress duplicate
// reply deliveries when both reply channels carry the same logical reply.
package dedupe
