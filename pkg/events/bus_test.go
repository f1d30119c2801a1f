package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(WorkerCreated, "w1", map[string]string{"k": "v"})

	select {
	case evt := <-sub.C:
		assert.Equal(t, WorkerCreated, evt.Name)
		assert.Equal(t, "w1", evt.WorkerID)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	assert.Equal(t, 2, b.SubscriberCount())
	b.Publish(WorkerUpdated, "w1", nil)

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case evt := <-sub.C:
			assert.Equal(t, WorkerUpdated, evt.Name)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	sub.Close()

	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed; receive returns immediately.
	_, ok := <-sub.C
	assert.False(t, ok)

	// Publishing after close must not panic.
	b.Publish(WorkerDeleted, "w1", nil)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer sub.Close()

	// Overfill the buffer without draining; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+50; i++ {
			b.Publish(WorkerOutput, "w1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The buffered prefix is still readable.
	received := 0
	for {
		select {
		case <-sub.C:
			received++
			continue
		default:
		}
		break
	}
	require.Equal(t, subscriberBuffer, received)
}
