package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	b := New()
	sub := b.Subscribe(Replicated)
	defer sub.Unsubscribe()

	b.Publish(Event{Name: Replicated, Replicator: "orders-sync"})

	select {
	case ev := <-sub.Chan:
		assert.Equal(t, Replicated, ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFilterDropsOtherNames(t *testing.T) {
	b := New()
	sub := b.Subscribe(TableCreated)
	defer sub.Unsubscribe()

	b.Publish(Event{Name: Replicated})
	b.Publish(Event{Name: TableCreated})

	select {
	case ev := <-sub.Chan:
		assert.Equal(t, TableCreated, ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case ev := <-sub.Chan:
		t.Fatalf("unexpected second event: %v", ev)
	default:
	}
}

func TestPublishNeverBlocksOnFullSlowSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize*4; i++ {
			b.Publish(Event{Name: Replicated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	require.Greater(t, b.Dropped(sub), 0)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Chan
	assert.False(t, ok)
}
