package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsNonEmptyAndUnique(t *testing.T) {
	a, err := NewID()
	require.NoError(t, err)
	b, err := NewID()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestIsStable(t *testing.T) {
	for _, s := range []State{Offline, Stopped, Running} {
		assert.True(t, s.IsStable(), s)
	}
	for _, s := range []State{Loading, Unloading, Starting, Stopping} {
		assert.False(t, s.IsStable(), s)
	}
}
