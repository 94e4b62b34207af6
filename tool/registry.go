package tool

import (
	"fmt"
	"sort"

	"github.com/hupe1980/taskmesh/model"
)

// Registry is a closed, read-only mapping from tool name to Tool. It is
// built once and shared by every task of an agent; a nil *Registry is an
// empty registry.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a registry. Empty and duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}

	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("tool registry: nil tool")
		}

		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool registry: tool with empty name")
		}

		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tool registry: duplicate tool name %q", name)
		}

		r.tools[name] = t
		r.names = append(r.names, name)
	}

	sort.Strings(r.names)

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}

	return r
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}

	t, ok := r.tools[name]

	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	return len(r.names)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	return append([]string(nil), r.names...)
}

// Definitions returns the tool declarations sent to the model, sorted by name.
func (r *Registry) Definitions() []model.ToolDefinition {
	if r.Len() == 0 {
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	return defs
}
