// Package catalog holds the read-only reference table of program components.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pdfcp/internal/domain"
)

//go:embed components.yml
var defaultComponents []byte

type Component struct {
	Key      domain.ActionKey `yaml:"key" json:"key"`
	Label    string           `yaml:"label" json:"label"`
	Unit     string           `yaml:"unit" json:"unit"`
	Category string           `yaml:"category" json:"category"`
}

type file struct {
	Components []Component `yaml:"components"`
}

// Catalog maps action keys to their canonical unit and label.
type Catalog struct {
	byKey map[domain.ActionKey]Component
	order []domain.ActionKey
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultComponents)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// FromFile loads a catalog override from path.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Every key must be a known action key and
// carry a unit.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	c := &Catalog{byKey: make(map[domain.ActionKey]Component, len(f.Components))}
	for _, comp := range f.Components {
		if !comp.Key.Valid() {
			return nil, fmt.Errorf("catalog: unknown action key %q", comp.Key)
		}
		if comp.Unit == "" {
			return nil, fmt.Errorf("catalog: %s has no unit", comp.Key)
		}
		if _, dup := c.byKey[comp.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate key %s", comp.Key)
		}
		if comp.Label == "" {
			comp.Label = string(comp.Key)
		}
		c.byKey[comp.Key] = comp
		c.order = append(c.order, comp.Key)
	}
	return c, nil
}

func (c *Catalog) Lookup(key domain.ActionKey) (Component, bool) {
	comp, ok := c.byKey[key]
	return comp, ok
}

// Unit returns the canonical unit for key, empty when unknown.
func (c *Catalog) Unit(key domain.ActionKey) string {
	return c.byKey[key].Unit
}

// Label returns the display label for key, falling back to the key itself.
func (c *Catalog) Label(key domain.ActionKey) string {
	if comp, ok := c.byKey[key]; ok {
		return comp.Label
	}
	return string(key)
}

// Components returns the catalog entries in file order.
func (c *Catalog) Components() []Component {
	out := make([]Component, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}
