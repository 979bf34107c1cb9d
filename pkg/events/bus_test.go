package events_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

func recv(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus(4, zerolog.Nop())
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(types.Event{Type: types.EventStrategyExecuted, AgentID: "a1"})

	ev1 := recv(t, ch1)
	ev2 := recv(t, ch2)
	assert.Equal(t, "a1", ev1.AgentID)
	assert.Equal(t, ev1.ID, ev2.ID)
	assert.NotEmpty(t, ev1.ID)
	assert.False(t, ev1.Timestamp.IsZero())
}

func TestBusTypeFilter(t *testing.T) {
	bus := events.NewBus(4, zerolog.Nop())
	defer bus.Close()

	ch, cancel := bus.Subscribe(types.EventFeeCollected)
	defer cancel()

	bus.Publish(types.Event{Type: types.EventStrategyExecuted})
	bus.Publish(types.Event{Type: types.EventFeeCollected, AgentID: "a1"})

	ev := recv(t, ch)
	require.Equal(t, types.EventFeeCollected, ev.Type)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %s", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsOnFullBuffer(t *testing.T) {
	bus := events.NewBus(1, zerolog.Nop())
	defer bus.Close()

	dropped := 0
	bus.OnDrop(func(types.Event) { dropped++ })

	ch, cancel := bus.Subscribe()
	defer cancel()

	// Nobody reads; the second publish overflows the one-slot buffer.
	bus.Publish(types.Event{Type: types.EventStrategyExecuted})
	bus.Publish(types.Event{Type: types.EventStrategyExecuted})

	assert.Equal(t, 1, dropped)
	ev := recv(t, ch)
	assert.Equal(t, types.EventStrategyExecuted, ev.Type)
}

func TestBusCloseEndsSubscribers(t *testing.T) {
	bus := events.NewBus(4, zerolog.Nop())
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()
	_, open := <-ch
	assert.False(t, open)

	// Publish after close is a no-op, not a panic.
	bus.Publish(types.Event{Type: types.EventStrategyExecuted})
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := events.NewBus(4, zerolog.Nop())
	defer bus.Close()

	_, cancel := bus.Subscribe()
	cancel()
	cancel()
}
