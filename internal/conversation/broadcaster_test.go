// ABOUTME: Tests for the transcript Broadcaster fan-out
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation and close

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SingleSubscriberReceivesMessage(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background())

	b.Publish(Message{ID: "msg-1", Text: "hello", IsSender: true})

	select {
	case received := <-ch:
		assert.Equal(t, "msg-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())
	ch3, _ := b.Subscribe(context.Background())

	b.Publish(Message{ID: "msg-2", Text: "hello"})

	for i, ch := range []<-chan Message{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "msg-2", received.ID, "subscriber %d got wrong message", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background())
	b.Unsubscribe(subID)

	// Channel is closed on unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(Message{ID: "msg-3"})
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	// The subscription goroutine closes the channel after cancellation.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestBroadcaster_CloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())

	b.Close()

	for i, ch := range []<-chan Message{ch1, ch2} {
		select {
		case _, open := <-ch:
			assert.False(t, open, "subscriber %d channel should be closed", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d channel not closed", i)
		}
	}
}
