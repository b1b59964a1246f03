package interior

import (
	"testing"

	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFactory(id types.ID, raw []byte, mon Monitor, log logrus.FieldLogger) (Interior, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	Register("registry-test-stub", stubFactory)

	f, err := Lookup("registry-test-stub")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestLookupUnknownType(t *testing.T) {
	_, err := Lookup("registry-test-does-not-exist")
	assert.Error(t, err)
}

func TestTypeOf(t *testing.T) {
	typ, err := TypeOf([]byte(`{"type": "docker", "image": "redis"}`))
	require.NoError(t, err)
	assert.Equal(t, "docker", typ)
}

func TestTypeOfMissing(t *testing.T) {
	_, err := TypeOf([]byte(`{"image": "redis"}`))
	assert.Error(t, err)
}
