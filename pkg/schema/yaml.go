package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Roles []Role `yaml:"roles"`
}

// Parse builds a registry from a YAML schema document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("schema: document declares no roles")
	}
	return NewRegistry(doc.Roles...)
}

// Load reads and parses a YAML schema file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-chosen schema path
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}
