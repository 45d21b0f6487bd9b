// Package counters loads counter definitions from YAML. A definition gives a
// counter a default tag for written events and a display unit.
package counters

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"counterstats/internal/stats"
)

// Definition describes one counter.
type Definition struct {
	CounterName    string `yaml:"name"`
	DefaultTagName string `yaml:"default_tag"`
	Unit           string `yaml:"unit"`
	Description    string `yaml:"description"`
}

func (d Definition) Name() string { return d.CounterName }

// DefaultTag returns nil when the definition has no default tag.
func (d Definition) DefaultTag() *string {
	if d.DefaultTagName == "" {
		return nil
	}
	tag := d.DefaultTagName
	return &tag
}

func (d Definition) FormatValue(v int64) string {
	if d.Unit == "" {
		return strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10) + " " + d.Unit
}

type file struct {
	Counters []Definition `yaml:"counters"`
}

// Registry resolves counter names to definitions.
type Registry struct {
	byName map[string]Definition
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.CounterName == "" {
			return nil, errors.New("counter definition without name")
		}
		if _, ok := r.byName[d.CounterName]; ok {
			return nil, fmt.Errorf("counter %q defined twice", d.CounterName)
		}
		r.byName[d.CounterName] = d
	}
	return r, nil
}

// Parse reads a YAML document of the form
//
//	counters:
//	  - name: signups
//	    default_tag: web
//	    unit: users
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse counters: %w", err)
	}
	return NewRegistry(f.Counters...)
}

// LoadFile parses path. An empty path yields an empty registry.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Lookup returns the definition for name, or a plain named counter.
func (r *Registry) Lookup(name string) stats.Counter {
	if d, ok := r.byName[name]; ok {
		return d
	}
	return stats.Named(name)
}

// Definitions returns every definition sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.byName))
	for _, d := range r.byName {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CounterName < defs[j].CounterName })
	return defs
}
