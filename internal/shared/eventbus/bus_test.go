package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DummyEvent implements Event for testing
type DummyEvent struct {
	typeStr   string
	data      interface{}
	timestamp time.Time
	source    string
}

func (e *DummyEvent) Type() string         { return e.typeStr }
func (e *DummyEvent) Data() interface{}    { return e.data }
func (e *DummyEvent) Timestamp() time.Time { return e.timestamp }
func (e *DummyEvent) Source() string       { return e.source }

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	var called bool
	bus.Subscribe(EventTypeRunCompleted, func(ctx context.Context, event Event) error {
		called = true
		assert.Equal(t, EventTypeRunCompleted, event.Type())
		return nil
	})
	err := bus.Publish(context.Background(), NewBasicEventWithSource(EventTypeRunCompleted, "report", "orchestrator"))
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestEventBus_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	var attempts, delivered int32
	bus.Subscribe("ev", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("sink down")
	})
	bus.Subscribe("ev", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	})

	err := bus.Publish(context.Background(), &DummyEvent{typeStr: "ev", timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestEventBus_AsyncPublish(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{AsyncProcessing: true})
	ch := make(chan struct{}, 1)
	bus.Subscribe("async", func(ctx context.Context, event Event) error {
		ch <- struct{}{}
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), &DummyEvent{typeStr: "async", timestamp: time.Now()}))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async event")
	}
}

func TestEventBus_PublishAndForgetThenDrain(t *testing.T) {
	bus := NewEventBus(nil)
	var seen int32
	bus.Subscribe(EventTypeItemProcessed, func(ctx context.Context, event Event) error {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&seen, 1)
		return nil
	})
	for i := 0; i < 3; i++ {
		bus.PublishAndForget(context.Background(), NewBasicEvent(EventTypeItemProcessed, i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Drain(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&seen))
	assert.Equal(t, 1, bus.GetSubscriberCount(EventTypeItemProcessed))
}
