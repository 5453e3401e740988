package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
)

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()
	require.Equal(t, 2, hub.Len())

	hub.Emit(context.Background(), domain.Event{Type: domain.EventClaimed, SlotNumber: 3})

	for _, ch := range []<-chan Message{a, b} {
		msg := <-ch
		assert.Equal(t, KindEvent, msg.Kind)
		require.NotNil(t, msg.Event)
		assert.Equal(t, 3, msg.Event.SlotNumber)
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(1)
	slow, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Emit(context.Background(), domain.Event{Type: domain.EventExtended, SlotNumber: i + 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}

	msg := <-slow
	assert.Equal(t, 1, msg.Event.SlotNumber)
	select {
	case extra := <-slow:
		t.Fatalf("expected overflow to be dropped, got %+v", extra)
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Len())

	// Broadcasting after cancel must not panic on the closed channel.
	hub.Refresh("boost_slots")
}

func TestHub_Refresh(t *testing.T) {
	hub := NewHub(2)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Refresh("boost_waitlist")
	msg := <-ch
	assert.Equal(t, KindRefresh, msg.Kind)
	assert.Equal(t, "boost_waitlist", msg.Source)
	assert.Nil(t, msg.Event)
}

func TestMulti_Emit(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, Nop{}, &b}
	m.Emit(context.Background(), domain.Event{Type: domain.EventVacated}, domain.Event{Type: domain.EventPromoted})
	m.Emit(context.Background())

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.OfType(domain.EventPromoted), 1)
}
