package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTemplate reads and parses a workflow template from a YAML file,
// the same os.ReadFile + yaml.Unmarshal shape internal/config uses for
// its own configuration documents.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow template %s: %w", path, err)
	}
	return ParseTemplate(data)
}

// ParseTemplate parses a workflow template from YAML bytes.
func ParseTemplate(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing workflow template: %w", err)
	}
	if tmpl.Name == "" {
		return nil, fmt.Errorf("workflow template has no name")
	}
	if len(tmpl.Steps) == 0 {
		return nil, fmt.Errorf("workflow template %q has no steps", tmpl.Name)
	}
	return &tmpl, nil
}
