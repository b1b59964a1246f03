package redis

import (
	"testing"

	"github.com/boz/contiman/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeStateEvent(t *testing.T) {
	ev := types.StateEvent{ContainerID: "c1", State: types.Running, LastState: types.Starting}

	buf, err := encode(ev)
	require.NoError(t, err)

	got, err := decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestEncodeDecodeStatusEvent(t *testing.T) {
	ev := types.StatusEvent{ContainerID: "c1", Status: map[string]interface{}{"ok": true}}

	buf, err := encode(ev)
	require.NoError(t, err)

	got, err := decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestEncodeDecodeErrorEvent(t *testing.T) {
	ev := types.ErrorEvent{ContainerID: "c1", Message: "boom", Kind: "conflict"}

	buf, err := encode(ev)
	require.NoError(t, err)

	got, err := decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeRejectsUnknownTopic(t *testing.T) {
	_, err := decode([]byte(`{"topic": "container.bogus", "payload": {}}`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	_, err := decode([]byte(`not json`))
	assert.Error(t, err)
}
