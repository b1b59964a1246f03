package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/boz/contiman/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewBus(ctx)
	require.NoError(t, err)
	defer bus.Shutdown()

	sub, err := bus.Subscribe(FilterNone)
	require.NoError(t, err)
	defer sub.Close()

	ev := types.StateEvent{ContainerID: "c1", State: types.Running}
	require.NoError(t, bus.Publish(ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterTopicExcludesOtherTopics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewBus(ctx)
	require.NoError(t, err)
	defer bus.Shutdown()

	sub, err := bus.Subscribe(FilterTopic(types.TopicError))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(types.StateEvent{ContainerID: "c1", State: types.Running}))
	require.NoError(t, bus.Publish(types.ErrorEvent{ContainerID: "c1", Message: "boom"}))

	select {
	case got := <-sub.Events():
		assert.Equal(t, types.TopicError, got.GetTopic())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterContainerExcludesOtherContainers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewBus(ctx)
	require.NoError(t, err)
	defer bus.Shutdown()

	sub, err := bus.Subscribe(FilterContainer("c1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(types.StateEvent{ContainerID: "other", State: types.Running}))
	require.NoError(t, bus.Publish(types.StateEvent{ContainerID: "c1", State: types.Stopped}))

	select {
	case got := <-sub.Events():
		assert.Equal(t, types.ID("c1"), got.GetContainerID())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewBus(ctx)
	require.NoError(t, err)
	defer bus.Shutdown()

	sub, err := bus.Subscribe(FilterNone)
	require.NoError(t, err)

	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not close")
	}
}
