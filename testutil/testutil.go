// Package testutil holds the small set of test helpers the registry tests
// use. Grounded on this codebase's
// testutil package: ID/Log/Bus/ReadJSON are kept in the same shape,
// retargeted from pool-and-checkout helpers to registry-and-bus ones.
package testutil

import (
	"context"
	"io/ioutil"
	"path"
	"testing"

	"github.com/boz/contiman/pubsub"
	"github.com/boz/contiman/registry"
	"github.com/boz/contiman/types"
	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ID(t *testing.T) types.ID {
	id, err := types.NewID()
	assert.NoError(t, err)
	return id
}

func Log() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return l
}

func Bus(t *testing.T, ctx context.Context) pubsub.Service {
	bus, err := pubsub.NewBus(ctx)
	require.NoError(t, err)
	return bus
}

func WithRegistry(t *testing.T, fn func(context.Context, registry.Registry, pubsub.Service)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := Bus(t, ctx)
	defer func() {
		require.NoError(t, bus.Shutdown())
	}()

	reg := registry.New(ctx, bus, Log())
	defer func() {
		reg.Shutdown()
		<-reg.Done()
	}()

	fn(ctx, reg, bus)
}

func ReadJSON(t *testing.T, fpath string) []byte {
	buf, err := ioutil.ReadFile(path.Join("_testdata", fpath))
	require.NoError(t, err, fpath)
	if path.Ext(fpath) == ".yaml" || path.Ext(fpath) == ".yml" {
		buf, err = yaml.YAMLToJSON(buf)
		require.NoError(t, err, fpath)
	}
	return buf
}
