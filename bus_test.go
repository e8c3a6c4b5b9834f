package baseplate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageBusDeliversToExistingSubscriber(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	var received Message
	bus.Subscribe("t", func(_ context.Context, msg Message) error {
		received = msg
		return nil
	})

	bus.Publish(context.Background(), "t", Message{"v": 1})
	require.Equal(t, Message{"v": 1}, received)
}

func TestMessageBusSubscribeDuringDeliveryNotInvokedForCurrentPublish(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	var lateCalled atomic.Bool
	bus.Subscribe("t", func(_ context.Context, _ Message) error {
		bus.Subscribe("t", func(_ context.Context, _ Message) error {
			lateCalled.Store(true)
			return nil
		})
		return nil
	})

	bus.Publish(context.Background(), "t", Message{"v": 1})
	require.False(t, lateCalled.Load(), "a handler subscribed during delivery must not see the in-flight publish")

	// A second publish must reach it.
	bus.Publish(context.Background(), "t", Message{"v": 2})
	require.True(t, lateCalled.Load())
}

func TestMessageBusUnsubscribeDuringDeliveryStillDeliversToNotYetInvokedEntry(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	var secondCalled atomic.Bool
	var id2 SubscriptionID

	bus.Subscribe("t", func(_ context.Context, _ Message) error {
		bus.Unsubscribe(id2)
		return nil
	})
	id2 = bus.Subscribe("t", func(_ context.Context, _ Message) error {
		secondCalled.Store(true)
		return nil
	})

	bus.Publish(context.Background(), "t", Message{"v": 1})
	require.True(t, secondCalled.Load(), "an entry unsubscribed mid-delivery before it ran must still be invoked once")

	secondCalled.Store(false)
	bus.Publish(context.Background(), "t", Message{"v": 2})
	require.False(t, secondCalled.Load(), "the unsubscribed entry must not be invoked on a later publish")
}

func TestMessageBusSubscribeThenImmediateUnsubscribeYieldsNoDeliveries(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	var called atomic.Bool
	id := bus.Subscribe("t", func(_ context.Context, _ Message) error {
		called.Store(true)
		return nil
	})
	require.True(t, bus.Unsubscribe(id))

	bus.Publish(context.Background(), "t", Message{"v": 1})
	require.False(t, called.Load())
}

func TestMessageBusUnsubscribeUnknownIDReturnsFalse(t *testing.T) {
	bus := NewMessageBus(NopLogger())
	require.False(t, bus.Unsubscribe(SubscriptionID(999)))
}

func TestMessageBusHandlerIsolation(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	bus.Subscribe("t", func(_ context.Context, _ Message) error {
		panic("h1 explodes")
	})

	var h2Seen Message
	bus.Subscribe("t", func(_ context.Context, msg Message) error {
		h2Seen = msg
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), "t", Message{"v": 1})
	})
	require.Equal(t, Message{"v": 1}, h2Seen)
}

func TestMessageBusHandlerErrorDoesNotAbortDelivery(t *testing.T) {
	bus := NewMessageBus(NopLogger())

	bus.Subscribe("t", func(_ context.Context, _ Message) error {
		return errTestHandler
	})

	var h2Called atomic.Bool
	bus.Subscribe("t", func(_ context.Context, _ Message) error {
		h2Called.Store(true)
		return nil
	})

	bus.Publish(context.Background(), "t", Message{})
	require.True(t, h2Called.Load())
}

var errTestHandler = &testHandlerError{}

type testHandlerError struct{}

func (*testHandlerError) Error() string { return "boom" }

func TestMessageBusPublishToTopicWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewMessageBus(NopLogger())
	require.NotPanics(t, func() {
		bus.Publish(context.Background(), "nobody.listening", Message{"v": 1})
	})
	require.Equal(t, 0, bus.SubscriberCount("nobody.listening"))
	require.NotContains(t, bus.Topics(), "nobody.listening")
}

func TestMessageBusConcurrentPublishSubscribeUnsubscribe(t *testing.T) {
	bus := NewMessageBus(NopLogger())
	const topic = "concurrent"

	var delivered atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(topic, func(_ context.Context, _ Message) error {
				delivered.Add(1)
				return nil
			})
			time.Sleep(time.Millisecond)
			bus.Unsubscribe(id)
		}()
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), topic, Message{"v": 1})
		}()
	}

	wg.Wait()
	// No assertion on the exact count (inherently racy against the
	// subscribe/unsubscribe goroutines); the test exists to be run under
	// -race and catch data races in the subscriber table.
}
