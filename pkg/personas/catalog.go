// Package personas holds the per-stage persona catalog: ordered, non-empty
// lists of prompt variants, loaded once per run and immutable thereafter.
//
// Order is significant. Index 0 is the primary persona for every stage; the
// executor and the arbiter aggregate strictly by list index, never by map
// iteration or completion order.
package personas

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog maps stage names to ordered persona prompt lists.
type Catalog struct {
	stages map[string][]string
}

type catalogFile struct {
	Stages map[string][]string `yaml:"stages"`
}

// New validates and wraps a stage map. Every referenced stage must carry at
// least one persona.
func New(stages map[string][]string) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("personas: catalog has no stages")
	}
	copied := make(map[string][]string, len(stages))
	for name, list := range stages {
		if len(list) == 0 {
			return nil, fmt.Errorf("personas: stage %s has no personas", name)
		}
		dup := make([]string, len(list))
		copy(dup, list)
		copied[name] = dup
	}
	return &Catalog{stages: copied}, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("personas: read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("personas: parse catalog: %w", err)
	}
	return New(f.Stages)
}

// Personas returns the ordered persona list for a stage. The returned slice
// is a copy; the catalog itself cannot be mutated through it.
func (c *Catalog) Personas(stage string) ([]string, error) {
	list, ok := c.stages[stage]
	if !ok {
		return nil, fmt.Errorf("personas: unknown stage %s", stage)
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// Has reports whether the catalog defines the given stage.
func (c *Catalog) Has(stage string) bool {
	_, ok := c.stages[stage]
	return ok
}
