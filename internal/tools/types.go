// Package tools defines the tool model, the YAML schema for CLI tools, the
// argv builder, and the adapters (CLI, MCP-stdio, HTTP) that execute tool
// calls. A ToolRegistry routes calls to the adapter owning each tool.
package tools

import "context"

// ParamType is the semantic type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeBoolean ParamType = "boolean"
	TypeInteger ParamType = "integer"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeBoolean, TypeInteger, TypeArray:
		return true
	}
	return false
}

// Parameter describes one argument of a callable.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	HasDefault  bool      `json:"-"`
	Description string    `json:"description,omitempty"`
}

// Callable is one invocable operation of a tool (a recipe, or the tool's
// escape hatch).
type Callable struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Tool is the immutable descriptor of an external capability.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Callables   []Callable `json:"callables"`
}

// Callable looks up a callable by name.
func (t *Tool) Callable(name string) (*Callable, bool) {
	for i := range t.Callables {
		if t.Callables[i].Name == name {
			return &t.Callables[i], true
		}
	}
	return nil, false
}

// Adapter executes calls for the tools it owns. recipe is empty for the
// escape-hatch invocation.
type Adapter interface {
	ListTools(ctx context.Context) ([]*Tool, error)
	Call(ctx context.Context, tool, recipe string, args map[string]any) (any, error)
	Close() error
}
