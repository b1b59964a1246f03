package interior

import (
	"fmt"
	"sync"

	"github.com/buger/jsonparser"
)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register binds a backend type name to its factory. Backends call this
// from an init() in the package that implements them, mirroring how a
// config document names a backend by string ("process", "docker",
// "postgres", "redis") without the core importing any of them directly.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typ] = f
}

// Lookup resolves the factory registered for typ.
func Lookup(typ string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("interior: no backend registered for type %q", typ)
	}
	return f, nil
}

// TypeOf extracts the "type" field from a raw interior config document,
// the same shape every Factory is handed.
func TypeOf(rawConfig []byte) (string, error) {
	return jsonparser.GetString(rawConfig, "type")
}
