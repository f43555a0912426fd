package namespace

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"codemode/internal/tools"
)

// toolsValue is the agent-visible `tools` object. Attribute access returns a
// proxy per tool; list() and search(query) return summaries.
type toolsValue struct {
	ns *Namespaces
}

var (
	_ starlark.Value    = (*toolsValue)(nil)
	_ starlark.HasAttrs = (*toolsValue)(nil)
)

func (t *toolsValue) String() string        { return "<tools>" }
func (t *toolsValue) Type() string          { return "tools" }
func (t *toolsValue) Freeze()               {}
func (t *toolsValue) Truth() starlark.Bool  { return starlark.True }
func (t *toolsValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: tools") }

func (t *toolsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "list":
		return starlark.NewBuiltin("tools.list", t.list), nil
	case "search":
		return starlark.NewBuiltin("tools.search", t.search), nil
	}
	tool, ok := t.ns.Registry.Get(name)
	if !ok {
		return nil, nil
	}
	return &toolProxy{ns: t.ns, tool: tool}, nil
}

func (t *toolsValue) AttrNames() []string {
	names := []string{"list", "search"}
	for _, tool := range t.ns.Registry.List() {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func (t *toolsValue) list(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return toolSummaries(t.ns.Registry.List())
}

func (t *toolsValue) search(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var query string
	limit := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "limit?", &limit); err != nil {
		return nil, err
	}
	return toolSummaries(t.ns.Registry.Search(query, limit))
}

func toolSummaries(list []*tools.Tool) (starlark.Value, error) {
	summaries := make([]any, 0, len(list))
	for _, tool := range list {
		operations := make([]any, 0, len(tool.Callables))
		for _, callable := range tool.Callables {
			operations = append(operations, callable.Name)
		}
		summaries = append(summaries, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"operations":  operations,
		})
	}
	return ToStarlark(summaries)
}

// toolProxy is `tools.X`. Calling it directly is the escape hatch against
// the full schema; attribute access dispatches to a named recipe.
type toolProxy struct {
	ns   *Namespaces
	tool *tools.Tool
}

var (
	_ starlark.Callable = (*toolProxy)(nil)
	_ starlark.HasAttrs = (*toolProxy)(nil)
)

func (p *toolProxy) String() string        { return "<tool " + p.tool.Name + ">" }
func (p *toolProxy) Type() string          { return "tool" }
func (p *toolProxy) Freeze()               {}
func (p *toolProxy) Truth() starlark.Bool  { return starlark.True }
func (p *toolProxy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: tool") }
func (p *toolProxy) Name() string          { return p.tool.Name }

func (p *toolProxy) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional("tools."+p.tool.Name, args); err != nil {
		return nil, err
	}
	return p.call(thread, "", kwargs)
}

func (p *toolProxy) Attr(name string) (starlark.Value, error) {
	callable, ok := p.tool.Callable(name)
	if !ok || callable.Name == p.tool.Name {
		return nil, nil
	}
	recipe := callable.Name
	fn := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := noPositional(b.Name(), args); err != nil {
			return nil, err
		}
		return p.call(thread, recipe, kwargs)
	}
	return starlark.NewBuiltin("tools."+p.tool.Name+"."+recipe, fn), nil
}

func (p *toolProxy) AttrNames() []string {
	var names []string
	for _, callable := range p.tool.Callables {
		if callable.Name == p.tool.Name {
			continue
		}
		names = append(names, callable.Name)
	}
	sort.Strings(names)
	return names
}

func (p *toolProxy) call(thread *starlark.Thread, recipe string, kwargs []starlark.Tuple) (starlark.Value, error) {
	result, err := p.ns.Registry.Call(threadContext(thread), p.tool.Name, recipe, kwargsToMap(kwargs))
	if err != nil {
		return nil, err
	}
	return ToStarlark(result)
}
