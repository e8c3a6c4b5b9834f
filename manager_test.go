package baseplate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOSManagerBootStartsModulesAndRunShutsDownCleanly(t *testing.T) {
	var startOrder, stopOrder []string
	root := SearchRoot{Name: "builtin", Factories: []ModuleFactory{
		factoryFor("A", "1.0.0", nil, func() ModuleInstance { return newStubModule("A", &startOrder, &stopOrder) }),
		factoryFor("B", "1.0.0", []string{"A"}, func() ModuleInstance { return newStubModule("B", &startOrder, &stopOrder) }),
	}}

	manager := NewOSManager(WithLogger(NopLogger()), WithSearchRoots(root))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))
	require.Equal(t, []string{"A", "B"}, startOrder)

	done := make(chan error, 1)
	go func() { done <- manager.Run(context.Background()) }()

	manager.RequestShutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}
	require.Equal(t, []string{"B", "A"}, stopOrder)
}

func TestOSManagerBootTwiceFails(t *testing.T) {
	manager := NewOSManager(WithLogger(NopLogger()))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))

	err := manager.Boot(context.Background())
	require.ErrorIs(t, err, ErrApplicationAlreadyBooted)

	require.NoError(t, manager.Shutdown(context.Background()))
}

func TestOSManagerRunBeforeBootFails(t *testing.T) {
	manager := NewOSManager(WithLogger(NopLogger()))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))

	err := manager.Run(context.Background())
	require.ErrorIs(t, err, ErrApplicationNotBooted)
}

func TestOSManagerBootFailurePropagatesBootError(t *testing.T) {
	var startOrder, stopOrder []string
	root := SearchRoot{Name: "builtin", Factories: []ModuleFactory{
		factoryFor("A", "1.0.0", []string{"missing"}, func() ModuleInstance { return newStubModule("A", &startOrder, &stopOrder) }),
	}}

	manager := NewOSManager(WithLogger(NopLogger()), WithSearchRoots(root))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))

	err := manager.Boot(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMissingDependency)
}

func TestOSManagerSystemCheckRequestPublishesResponse(t *testing.T) {
	var startOrder, stopOrder []string
	root := SearchRoot{Name: "builtin", Factories: []ModuleFactory{
		factoryFor("A", "1.0.0", nil, func() ModuleInstance { return newStubModule("A", &startOrder, &stopOrder) }),
	}}

	manager := NewOSManager(WithLogger(NopLogger()), WithSearchRoots(root), WithDefaultCheckTimeout(time.Second))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))
	defer manager.Shutdown(context.Background())

	responses := make(chan Message, 1)
	manager.Bus().Subscribe(TopicSystemCheckResponse, func(_ context.Context, msg Message) error {
		responses <- msg
		return nil
	})

	manager.Bus().Publish(context.Background(), TopicSystemCheckRequest, Message{"request_id": "req-42"})

	select {
	case msg := <-responses:
		require.Equal(t, "req-42", msg["request_id"])
		require.NotNil(t, msg["results"])
	case <-time.After(2 * time.Second):
		t.Fatal("no system.check.response published")
	}
}

func TestOSManagerModuleLoaderBridgeTopicAlsoProducesResponse(t *testing.T) {
	var startOrder, stopOrder []string
	root := SearchRoot{Name: "builtin", Factories: []ModuleFactory{
		factoryFor("A", "1.0.0", nil, func() ModuleInstance { return newStubModule("A", &startOrder, &stopOrder) }),
	}}

	manager := NewOSManager(WithLogger(NopLogger()), WithSearchRoots(root))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))
	defer manager.Shutdown(context.Background())

	responses := make(chan Message, 1)
	manager.Bus().Subscribe(TopicSystemCheckResponse, func(_ context.Context, msg Message) error {
		responses <- msg
		return nil
	})

	manager.Bus().Publish(context.Background(), TopicModuleLoaderSystemCheckRequest, Message{})

	select {
	case <-responses:
	case <-time.After(2 * time.Second):
		t.Fatal("no system.check.response published from the bridge topic")
	}
}

func TestOSManagerShutdownRequestTopicTriggersShutdown(t *testing.T) {
	manager := NewOSManager(WithLogger(NopLogger()))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))

	done := make(chan error, 1)
	go func() { done <- manager.Run(context.Background()) }()

	manager.Bus().Publish(context.Background(), TopicSystemShutdownRequest, Message{"reason": "operator request"})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after system.shutdown.request")
	}
}

func TestOSManagerShutdownIsIdempotent(t *testing.T) {
	manager := NewOSManager(WithLogger(NopLogger()))
	require.NoError(t, manager.ConstructWithConfig(EmptyConfig()))
	require.NoError(t, manager.Boot(context.Background()))

	require.NoError(t, manager.Shutdown(context.Background()))
	require.NoError(t, manager.Shutdown(context.Background()))
}
