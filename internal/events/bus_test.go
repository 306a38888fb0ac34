package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var got atomic.Value
	unsub := bus.Subscribe(EventCostAlert, func(e Event) {
		got.Store(e)
	})
	defer unsub()

	bus.Publish(EventCostAlert, map[string]any{"alert_type": "daily_threshold_exceeded"})

	waitFor(t, func() bool { return got.Load() != nil })
	event := got.Load().(Event)
	assert.Equal(t, EventCostAlert, event.Type)
	assert.Equal(t, "daily_threshold_exceeded", event.Data["alert_type"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestBusTypeIsolation(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var safetyCount, costCount atomic.Int32
	bus.Subscribe(EventSafetyAlert, func(Event) { safetyCount.Add(1) })
	bus.Subscribe(EventCostAlert, func(Event) { costCount.Add(1) })

	bus.Publish(EventSafetyAlert, nil)
	bus.Publish(EventSafetyAlert, nil)

	waitFor(t, func() bool { return safetyCount.Load() == 2 })
	assert.Equal(t, int32(0), costCount.Load())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var count atomic.Int32
	unsub := bus.Subscribe(EventJobFinished, func(Event) { count.Add(1) })

	bus.Publish(EventJobFinished, nil)
	waitFor(t, func() bool { return count.Load() == 1 })

	unsub()
	bus.Publish(EventJobFinished, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestBusSubscriberPanicDoesNotKillBus(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var delivered atomic.Int32
	bus.Subscribe(EventSafetyAlert, func(Event) { panic("bad subscriber") })
	bus.Subscribe(EventSafetyAlert, func(Event) { delivered.Add(1) })

	bus.Publish(EventSafetyAlert, nil)
	bus.Publish(EventSafetyAlert, nil)

	waitFor(t, func() bool { return delivered.Load() == 2 })
	require.Equal(t, int32(2), delivered.Load())
}

func TestBusNonBlockingWhenBufferFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(EventCostAlert, func(Event) { <-block })

	// Publisher must never block even with a stuck subscriber.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(EventCostAlert, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	close(block)
}
