package process

import (
	"testing"
	"time"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigRequiresPath(t *testing.T) {
	_, err := parseConfig([]byte(`{}`))
	assert.Error(t, err)
}

func TestParseConfigReadsArgsEnvDir(t *testing.T) {
	cfg, err := parseConfig([]byte(`{"path": "/bin/sleep", "args": ["1"], "env": ["FOO=bar"], "dir": "/tmp"}`))
	require.NoError(t, err)
	assert.Equal(t, "/bin/sleep", cfg.Path)
	assert.Equal(t, []string{"1"}, cfg.Args)
	assert.Equal(t, []string{"FOO=bar"}, cfg.Env)
	assert.Equal(t, "/tmp", cfg.Dir)
}

func TestImplementsLoadUnloadStartStopOnly(t *testing.T) {
	b := &backend{}
	assert.True(t, b.Implements(types.ActionLoad))
	assert.True(t, b.Implements(types.ActionUnload))
	assert.True(t, b.Implements(types.ActionStart))
	assert.True(t, b.Implements(types.ActionStop))
	assert.False(t, b.Implements(types.ActionStatus))
}

type captureMonitor struct {
	states chan types.State
}

func newCaptureMonitor() *captureMonitor {
	return &captureMonitor{states: make(chan types.State, 16)}
}

func (m *captureMonitor) State(s types.State)        { m.states <- s }
func (m *captureMonitor) Status(interface{})         {}
func (m *captureMonitor) Error(error)                {}

var _ interior.Monitor = (*captureMonitor)(nil)

func TestStartReportsRunningThenStoppedOnExit(t *testing.T) {
	mon := newCaptureMonitor()

	in, err := New(types.ID("p1"), []byte(`{"path": "/bin/sleep", "args": ["0"]}`), mon, logrus.StandardLogger())
	require.NoError(t, err)
	defer in.Close()

	in.Start(interior.Opts{})

	select {
	case s := <-mon.states:
		assert.Equal(t, types.Running, s)
	case <-time.After(time.Second):
		t.Fatal("never reported running")
	}

	select {
	case s := <-mon.states:
		assert.Equal(t, types.Stopped, s)
	case <-time.After(2 * time.Second):
		t.Fatal("never reported stopped after exit")
	}
}

func TestStopCancelsRunningProcess(t *testing.T) {
	mon := newCaptureMonitor()

	in, err := New(types.ID("p2"), []byte(`{"path": "/bin/sleep", "args": ["5"]}`), mon, logrus.StandardLogger())
	require.NoError(t, err)
	defer in.Close()

	in.Start(interior.Opts{})
	require.Equal(t, types.Running, <-mon.states)

	in.Stop(interior.Opts{})

	select {
	case s := <-mon.states:
		assert.Equal(t, types.Stopped, s)
	case <-time.After(2 * time.Second):
		t.Fatal("stop never settled at stopped")
	}
}
