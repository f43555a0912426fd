package namespace

import (
	"fmt"
	"time"
	"unicode/utf8"

	"go.starlark.net/starlark"

	"codemode/internal/errors"
	"codemode/internal/store"
)

// artifactsValue is the agent-visible `artifacts` object over the artifact
// store: save, load, list, delete.
type artifactsValue struct {
	ns *Namespaces
}

var (
	_ starlark.Value    = (*artifactsValue)(nil)
	_ starlark.HasAttrs = (*artifactsValue)(nil)
)

var artifactsMethods = []string{"delete", "list", "load", "save"}

func (a *artifactsValue) String() string        { return "<artifacts>" }
func (a *artifactsValue) Type() string          { return "artifacts" }
func (a *artifactsValue) Freeze()               {}
func (a *artifactsValue) Truth() starlark.Bool  { return starlark.True }
func (a *artifactsValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: artifacts") }

func (a *artifactsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "save":
		return starlark.NewBuiltin("artifacts.save", a.save), nil
	case "load":
		return starlark.NewBuiltin("artifacts.load", a.load), nil
	case "list":
		return starlark.NewBuiltin("artifacts.list", a.list), nil
	case "delete":
		return starlark.NewBuiltin("artifacts.delete", a.delete), nil
	}
	return nil, nil
}

func (a *artifactsValue) AttrNames() []string {
	return append([]string{}, artifactsMethods...)
}

func (a *artifactsValue) save(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, description string
	var data starlark.Value
	var metadata *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "data", &data, "description?", &description, "metadata?", &metadata); err != nil {
		return nil, err
	}

	var payload []byte
	switch v := data.(type) {
	case starlark.String:
		payload = []byte(v)
	case starlark.Bytes:
		payload = []byte(v)
	default:
		return nil, errors.New(errors.KindArgumentType, "artifacts.save: data must be a string or bytes, got %s", data.Type())
	}

	record := &store.ArtifactRecord{
		Name:        name,
		Data:        payload,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if metadata != nil {
		meta, _ := FromStarlark(metadata).(map[string]any)
		record.Metadata = meta
	}
	if err := a.ns.Storage.Artifacts().Put(threadContext(thread), record); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// load returns a string when the payload is valid UTF-8, bytes otherwise.
func (a *artifactsValue) load(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	record, err := a.ns.Storage.Artifacts().Get(threadContext(thread), name)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(record.Data) {
		return starlark.String(record.Data), nil
	}
	return starlark.Bytes(record.Data), nil
}

func (a *artifactsValue) list(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	records, err := a.ns.Storage.Artifacts().List(threadContext(thread))
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(records))
	for _, record := range records {
		entry := map[string]any{
			"name":        record.Name,
			"description": record.Description,
		}
		if record.Metadata != nil {
			entry["metadata"] = record.Metadata
		}
		out = append(out, entry)
	}
	return ToStarlark(out)
}

func (a *artifactsValue) delete(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	removed, err := a.ns.Storage.Artifacts().Delete(threadContext(thread), name)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(removed), nil
}
