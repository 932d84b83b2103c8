package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(n int) FileEvent {
	return FileEvent{
		Type:      EventTypeFileProcessed,
		BatchID:   "batch-1",
		Filename:  fmt.Sprintf("IMG_%04d.jpg", n),
		Processed: n,
		Timestamp: time.Now().UTC(),
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	require.Equal(t, 2, b.SubscriberCount())
	b.Publish(testEvent(1))

	for _, ch := range []<-chan FileEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, 1, ev.Processed)
			assert.Equal(t, "batch-1", ev.BatchID)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBrokerLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := NewBroker()
	b.Publish(testEvent(1))

	ch, unsub := b.Subscribe()
	defer unsub()
	b.Publish(testEvent(2))

	ev := <-ch
	assert.Equal(t, 2, ev.Processed)
	select {
	case <-ch:
		t.Fatal("no further events were published")
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe()
	defer unsub()

	// Overfill the buffer; the publisher must never block.
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(testEvent(i))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestBrokerUnsubscribeIdempotent(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe()

	unsub()
	unsub()
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed after detach.
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing with no subscribers is a no-op.
	b.Publish(testEvent(1))
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	unsub1()
	b.Publish(testEvent(1))

	if _, ok := <-ch1; ok {
		t.Fatal("detached subscriber received an event")
	}
	select {
	case ev := <-ch2:
		assert.Equal(t, 1, ev.Processed)
	default:
		t.Fatal("remaining subscriber missed the event")
	}
}
