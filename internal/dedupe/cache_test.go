// ABOUTME: Tests for the TTL dedupe cache
// ABOUTME: Covers first-seen, duplicate detection and expiry

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_FirstSeenIsNotDuplicate(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	assert.False(t, c.CheckAndMark("reply-1"))
	assert.True(t, c.CheckAndMark("reply-1"))
	assert.False(t, c.CheckAndMark("reply-2"))
}

func TestCheckAndMark_ExpiredKeyIsNotDuplicate(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	assert.False(t, c.CheckAndMark("reply-1"))
	time.Sleep(25 * time.Millisecond)
	assert.False(t, c.CheckAndMark("reply-1"))
}

func TestClose_IsIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Close()
	c.Close()
}
