package registry_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/pubsub"
	"github.com/boz/contiman/registry"
	"github.com/boz/contiman/testutil"
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInterior never implements any action, so a created container settles
// at types.Stopped purely through the engine's auto-advance and never moves
// on its own afterward.
type stubInterior struct{}

func (stubInterior) Implements(types.Action) bool { return false }
func (stubInterior) Load(interior.Opts)            {}
func (stubInterior) Unload(interior.Opts)          {}
func (stubInterior) Start(interior.Opts)           {}
func (stubInterior) Stop(interior.Opts)            {}
func (stubInterior) Status(interior.Opts)          {}
func (stubInterior) Close() error                  { return nil }

func init() {
	interior.Register("registry-test-stub", func(types.ID, []byte, interior.Monitor, logrus.FieldLogger) (interior.Interior, error) {
		return stubInterior{}, nil
	})
}

func stubConfig(t *testing.T) []byte {
	buf, err := json.Marshal(map[string]string{"type": "registry-test-stub"})
	require.NoError(t, err)
	return buf
}

func awaitState(t *testing.T, sub pubsub.Subscription, id types.ID, state types.State) {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if se, ok := ev.(types.StateEvent); ok && se.ContainerID == id && se.State == state {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for container %q to reach %q", id, state)
		}
	}
}

func TestCreateThenQueryReachesStopped(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		id := testutil.ID(t)

		sub, err := bus.Subscribe(pubsub.FilterContainer(id))
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, reg.Create(ctx, id, stubConfig(t)))
		awaitState(t, sub, id, types.Stopped)

		snap, err := reg.Query(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.Stopped, snap.State)
	})
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		id := testutil.ID(t)

		require.NoError(t, reg.Create(ctx, id, stubConfig(t)))
		err := reg.Create(ctx, id, stubConfig(t))
		assert.Error(t, err)
	})
}

func TestCreateWithUnknownTypeIsInvalidConfig(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		id := testutil.ID(t)
		raw, err := json.Marshal(map[string]string{"type": "does-not-exist"})
		require.NoError(t, err)

		err = reg.Create(ctx, id, raw)
		assert.Error(t, err)
	})
}

func TestQueryUnknownIDIsNotFound(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		_, err := reg.Query(ctx, testutil.ID(t))
		assert.Error(t, err)
	})
}

func TestStartUnknownIDIsNotFound(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		err := reg.Start(ctx, testutil.ID(t))
		assert.Error(t, err)
	})
}

func TestListIncludesCreatedContainer(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		id := testutil.ID(t)

		sub, err := bus.Subscribe(pubsub.FilterContainer(id))
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, reg.Create(ctx, id, stubConfig(t)))
		awaitState(t, sub, id, types.Stopped)

		ids, err := reg.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	})
}

func TestDestroyEvictsFromList(t *testing.T) {
	testutil.WithRegistry(t, func(ctx context.Context, reg registry.Registry, bus pubsub.Service) {
		id := testutil.ID(t)

		sub, err := bus.Subscribe(pubsub.FilterContainer(id))
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, reg.Create(ctx, id, stubConfig(t)))
		awaitState(t, sub, id, types.Stopped)

		require.NoError(t, reg.Destroy(ctx, id))
		awaitState(t, sub, id, types.Offline)

		deadline := time.After(5 * time.Second)
		for {
			ids, err := reg.List(ctx)
			require.NoError(t, err)
			found := false
			for _, got := range ids {
				if got == id {
					found = true
				}
			}
			if !found {
				return
			}
			select {
			case <-time.After(10 * time.Millisecond):
			case <-deadline:
				t.Fatal("container was never evicted")
			}
		}
	})
}
