// Package config reads container configuration documents (JSON or YAML)
// and resolves the interior factory a container's "type" field names,
// mirroring this codebase's existing ReadPath/jsonparser field-extraction
// style rather than a struct-tag decode.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
)

// Container is a parsed container config: the raw document plus the
// interior factory it resolved to. The raw bytes are threaded through to
// the factory unmodified so a backend can pull its own fields out of them
// with jsonparser.
type Container struct {
	Raw     []byte
	Type    string
	Factory interior.Factory
}

// ReadPath loads a single container config from path. YAML is converted
// to JSON first when the extension is .yml or .yaml; everything else is
// returned unchanged.
func ReadPath(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(path, file)
}

// Read loads a single container config from r. path is used only for its
// extension, to decide whether YAML conversion runs first.
func Read(path string, r io.Reader) ([]byte, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.YAMLToJSON(buf)
	default:
		return buf, nil
	}
}

// Parse resolves raw into a Container, failing with cerrors.KindInvalidConfig
// if it doesn't name a registered interior type.
func Parse(id types.ID, raw []byte) (Container, error) {
	typ, err := interior.TypeOf(raw)
	if err != nil {
		return Container{}, cerrors.NewInvalidConfig(id, err)
	}

	factory, err := interior.Lookup(typ)
	if err != nil {
		return Container{}, cerrors.NewInvalidConfig(id, err)
	}

	return Container{Raw: raw, Type: typ, Factory: factory}, nil
}

// Bind partially applies id/log into the container's factory, returning
// the engine.NewInterior closure the engine constructor expects.
func (c Container) Bind(id types.ID, log logrus.FieldLogger) func(interior.Monitor) (interior.Interior, error) {
	return func(mon interior.Monitor) (interior.Interior, error) {
		return c.Factory(id, c.Raw, mon, log)
	}
}
