package namespace

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"codemode/internal/skills"
)

// skillsValue is the agent-visible `skills` object. Attribute access invokes
// a stored skill; the method set manages the library.
type skillsValue struct {
	ns *Namespaces
}

var (
	_ starlark.Value    = (*skillsValue)(nil)
	_ starlark.HasAttrs = (*skillsValue)(nil)
)

var skillsMethods = []string{"create", "delete", "get", "invoke", "list", "search"}

func (s *skillsValue) String() string        { return "<skills>" }
func (s *skillsValue) Type() string          { return "skills" }
func (s *skillsValue) Freeze()               {}
func (s *skillsValue) Truth() starlark.Bool  { return starlark.True }
func (s *skillsValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: skills") }

func (s *skillsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "invoke":
		return starlark.NewBuiltin("skills.invoke", s.invoke), nil
	case "search":
		return starlark.NewBuiltin("skills.search", s.search), nil
	case "create":
		return starlark.NewBuiltin("skills.create", s.create), nil
	case "delete":
		return starlark.NewBuiltin("skills.delete", s.delete), nil
	case "get":
		return starlark.NewBuiltin("skills.get", s.get), nil
	case "list":
		return starlark.NewBuiltin("skills.list", s.list), nil
	}
	if _, err := s.ns.Library.Get(context.Background(), name); err != nil {
		return nil, nil
	}
	skillName := name
	fn := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := noPositional(b.Name(), args); err != nil {
			return nil, err
		}
		return s.ns.Library.Invoke(threadContext(thread), thread, s.ns.Predeclared(), skillName, kwargs)
	}
	return starlark.NewBuiltin("skills."+skillName, fn), nil
}

func (s *skillsValue) AttrNames() []string {
	names := append([]string{}, skillsMethods...)
	for _, skill := range s.ns.Library.List() {
		names = append(names, skill.Name)
	}
	sort.Strings(names)
	return names
}

// invoke is the explicit form: skills.invoke("name", **kwargs).
func (s *skillsValue) invoke(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expects the skill name followed by keyword arguments", b.Name())
	}
	name, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: skill name must be a string, got %s", b.Name(), args[0].Type())
	}
	return s.ns.Library.Invoke(threadContext(thread), thread, s.ns.Predeclared(), name, kwargs)
}

func (s *skillsValue) search(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var query string
	limit := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "limit?", &limit); err != nil {
		return nil, err
	}
	results, err := s.ns.Library.Search(threadContext(thread), query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(results))
	for _, hit := range results {
		out = append(out, map[string]any{
			"name":        hit.Name,
			"description": hit.Description,
			"score":       float64(hit.Score),
		})
	}
	return ToStarlark(out)
}

func (s *skillsValue) create(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, source, description string
	overwrite := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "source", &source, "description?", &description, "overwrite?", &overwrite); err != nil {
		return nil, err
	}
	skill, err := s.ns.Library.Create(threadContext(thread), name, source, description, overwrite)
	if err != nil {
		return nil, err
	}
	return ToStarlark(skillSummary(skill))
}

func (s *skillsValue) delete(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	removed, err := s.ns.Library.Delete(threadContext(thread), name)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(removed), nil
}

// get returns the full record, source included.
func (s *skillsValue) get(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	skill, err := s.ns.Library.Get(threadContext(thread), name)
	if err != nil {
		return nil, err
	}
	record := skillSummary(skill)
	record["source"] = skill.Source
	return ToStarlark(record)
}

func (s *skillsValue) list(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	entries := s.ns.Library.List()
	out := make([]any, 0, len(entries))
	for _, skill := range entries {
		out = append(out, skillSummary(skill))
	}
	return ToStarlark(out)
}

func skillSummary(skill *skills.Skill) map[string]any {
	params := make([]any, 0, len(skill.Params))
	for _, param := range skill.Params {
		entry := map[string]any{"name": param.Name}
		if param.HasDefault {
			entry["default"] = param.Default
		}
		params = append(params, entry)
	}
	summary := map[string]any{
		"name":        skill.Name,
		"description": skill.Description,
		"params":      params,
	}
	if skill.Error != "" {
		summary["error"] = skill.Error
	}
	return summary
}
