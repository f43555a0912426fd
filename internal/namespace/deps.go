package namespace

import (
	"fmt"

	"go.starlark.net/starlark"
)

// depsValue is the agent-visible `deps` object. It is a controlled wrapper:
// only add, remove, list and sync are reachable, so agent code cannot touch
// the controller or its policy through attribute access.
type depsValue struct {
	ns *Namespaces
}

var (
	_ starlark.Value    = (*depsValue)(nil)
	_ starlark.HasAttrs = (*depsValue)(nil)
)

var depsMethods = []string{"add", "list", "remove", "sync"}

func (d *depsValue) String() string        { return "<deps>" }
func (d *depsValue) Type() string          { return "deps" }
func (d *depsValue) Freeze()               {}
func (d *depsValue) Truth() starlark.Bool  { return starlark.True }
func (d *depsValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: deps") }

func (d *depsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "add":
		return starlark.NewBuiltin("deps.add", d.add), nil
	case "remove":
		return starlark.NewBuiltin("deps.remove", d.remove), nil
	case "list":
		return starlark.NewBuiltin("deps.list", d.list), nil
	case "sync":
		return starlark.NewBuiltin("deps.sync", d.sync), nil
	}
	return nil, nil
}

func (d *depsValue) AttrNames() []string {
	return append([]string{}, depsMethods...)
}

func (d *depsValue) add(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var spec string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "spec", &spec); err != nil {
		return nil, err
	}
	status, err := d.ns.Deps.Add(threadContext(thread), spec)
	if err != nil {
		return nil, err
	}
	return starlark.String(status), nil
}

func (d *depsValue) remove(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var spec string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "spec", &spec); err != nil {
		return nil, err
	}
	removed, err := d.ns.Deps.Remove(threadContext(thread), spec)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(removed), nil
}

func (d *depsValue) list(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	specs, err := d.ns.Deps.List(threadContext(thread))
	if err != nil {
		return nil, err
	}
	return ToStarlark(specs)
}

func (d *depsValue) sync(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	result, err := d.ns.Deps.Sync(threadContext(thread))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(result.Installed) > 0 {
		out["installed"] = result.Installed
	}
	if len(result.AlreadyPresent) > 0 {
		out["already_present"] = result.AlreadyPresent
	}
	if len(result.Failed) > 0 {
		failed := map[string]any{}
		for spec, msg := range result.Failed {
			failed[spec] = msg
		}
		out["failed"] = failed
	}
	return ToStarlark(out)
}
