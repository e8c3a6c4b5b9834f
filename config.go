package baseplate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Tree is the in-memory configuration tree the core consumes: a nested
// map with at minimum a "modules" section keyed by module name. Sections
// owned by individual modules (or by top-level application concerns the
// core doesn't know about) are carried through untouched.
type Tree map[string]any

// LoadConfig reads and parses the file at path into a Tree. The format is
// selected by file extension: .yaml/.yml, .toml, or .json. Any other
// extension is a ConfigError.
func LoadConfig(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfigInvalid, path, err)
	}

	tree := make(Tree)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing yaml %s: %v", ErrConfigInvalid, path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing toml %s: %v", ErrConfigInvalid, path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("%w: parsing json %s: %v", ErrConfigInvalid, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrConfigInvalid, ext)
	}

	return &tree, nil
}

// EmptyConfig returns a Tree with an empty modules section, for embedders
// that construct configuration programmatically rather than from a file.
func EmptyConfig() *Tree {
	return &Tree{"modules": map[string]any{}}
}

// ModuleSlice returns the subtree under modules.<name>, or an empty
// ConfigSlice if absent or malformed.
func (t *Tree) ModuleSlice(name string) ConfigSlice {
	if t == nil {
		return ConfigSlice{}
	}
	modulesRaw, ok := (*t)["modules"]
	if !ok {
		return ConfigSlice{}
	}
	modules, ok := toStringMap(modulesRaw)
	if !ok {
		return ConfigSlice{}
	}
	sliceRaw, ok := modules[name]
	if !ok {
		return ConfigSlice{}
	}
	slice, ok := toStringMap(sliceRaw)
	if !ok {
		return ConfigSlice{}
	}
	return ConfigSlice(slice)
}

// toStringMap normalizes the handful of shapes a YAML/TOML/JSON decoder
// might hand back for a nested object (map[string]any from JSON/TOML,
// map[string]interface{} from yaml.v3's default mode) into a single type.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}
