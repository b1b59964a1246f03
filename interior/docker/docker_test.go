package docker

import (
	"testing"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/docker/docker/api/types/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigRequiresImage(t *testing.T) {
	_, err := parseConfig([]byte(`{}`))
	assert.Error(t, err)
}

func TestParseConfigReadsFields(t *testing.T) {
	cfg, err := parseConfig([]byte(`{"image": "redis:6", "cmd": ["redis-server"], "env": ["FOO=bar"], "ports": ["6379"], "memory": "128m"}`))
	require.NoError(t, err)
	assert.Equal(t, "redis:6", cfg.Image)
	assert.Equal(t, []string{"redis-server"}, cfg.Cmd)
	assert.Equal(t, []string{"FOO=bar"}, cfg.Env)
	assert.Equal(t, []string{"6379"}, cfg.Ports)
	assert.Equal(t, int64(128*1024*1024), cfg.MemoryBytes)
}

func TestParseConfigRejectsBadMemory(t *testing.T) {
	_, err := parseConfig([]byte(`{"image": "redis:6", "memory": "not-a-size"}`))
	assert.Error(t, err)
}

func TestImplementsAllFiveActions(t *testing.T) {
	b := &backend{}
	for _, a := range []types.Action{
		types.ActionLoad, types.ActionUnload, types.ActionStart, types.ActionStop, types.ActionStatus,
	} {
		assert.True(t, b.Implements(a), a)
	}
}

func TestPortSpecsBuildsExposedAndBindings(t *testing.T) {
	exposed, bindings, err := portSpecs([]string{"6379", "8080"})
	require.NoError(t, err)
	assert.Len(t, exposed, 2)
	assert.Len(t, bindings, 2)
}

func TestPortSpecsRejectsBadSpec(t *testing.T) {
	_, _, err := portSpecs([]string{"not-a-port/xyz"})
	assert.Error(t, err)
}

type captureMonitor struct {
	states chan types.State
}

func newCaptureMonitor() *captureMonitor {
	return &captureMonitor{states: make(chan types.State, 4)}
}

func (m *captureMonitor) State(s types.State) { m.states <- s }
func (m *captureMonitor) Status(interface{})  {}
func (m *captureMonitor) Error(error)         {}

var _ interior.Monitor = (*captureMonitor)(nil)

func TestHandleEventMapsDockerActionsToStates(t *testing.T) {
	cases := map[string]types.State{
		"start":   types.Running,
		"die":     types.Stopped,
		"stop":    types.Stopped,
		"kill":    types.Stopped,
		"destroy": types.Offline,
	}

	for action, want := range cases {
		mon := newCaptureMonitor()
		b := &backend{mon: mon}
		b.handleEvent(events.Message{Action: action})

		select {
		case got := <-mon.states:
			assert.Equal(t, want, got, action)
		default:
			t.Fatalf("action %q produced no state report", action)
		}
	}
}

func TestHandleEventIgnoresUnmappedActions(t *testing.T) {
	mon := newCaptureMonitor()
	b := &backend{mon: mon}
	b.handleEvent(events.Message{Action: "exec_create"})

	select {
	case got := <-mon.states:
		t.Fatalf("unexpected state report %q for an unmapped action", got)
	default:
	}
}
