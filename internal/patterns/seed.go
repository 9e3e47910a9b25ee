package patterns

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

type library struct {
	Patterns []Spec `yaml:"patterns"`
}

// BuiltinLibrary returns the embedded pattern library.
func BuiltinLibrary() ([]Spec, error) {
	return parseLibrary(builtinYAML)
}

// LoadLibraryFile reads a YAML pattern library from path.
func LoadLibraryFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patterns: read library: %w", err)
	}
	return parseLibrary(data)
}

func parseLibrary(data []byte) ([]Spec, error) {
	var lib library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("patterns: parse library: %w", err)
	}
	return lib.Patterns, nil
}
