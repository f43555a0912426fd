package namespace

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"codemode/internal/errors"
)

// ToStarlark converts a Go value (typically decoded JSON or an adapter
// result) into its Starlark counterpart.
func ToStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case []byte:
		return starlark.Bytes(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case float32:
		return starlark.Float(float64(x)), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrap(errors.KindRuntime, err, "convert number %q", x)
		}
		return starlark.Float(f), nil
	case []string:
		elems := make([]starlark.Value, len(x))
		for i, s := range x {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			converted, err := ToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(x))
		keys := make([]string, 0, len(x))
		for key := range x {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, err := ToStarlark(x[key])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), value); err != nil {
				return nil, errors.Wrap(errors.KindRuntime, err, "build dict")
			}
		}
		return dict, nil
	default:
		return starlark.String(fmt.Sprintf("%v", x)), nil
	}
}

// FromStarlark converts a Starlark value into a JSON-serializable Go value.
// Opaque values (functions, proxies) degrade to their display form.
func FromStarlark(v starlark.Value) any {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		return x.String()
	case starlark.Float:
		return float64(x)
	case starlark.String:
		return string(x)
	case starlark.Bytes:
		return string(x)
	case starlark.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromStarlark(e)
		}
		return out
	case *starlark.List:
		out := make([]any, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			out = append(out, FromStarlark(x.Index(i)))
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, x.Len())
		it := x.Iterate()
		var e starlark.Value
		for it.Next(&e) {
			out = append(out, FromStarlark(e))
		}
		it.Done()
		return out
	case starlark.IterableMapping:
		out := make(map[string]any)
		for _, item := range x.Items() {
			key, value := item[0], item[1]
			if s, ok := key.(starlark.String); ok {
				out[string(s)] = FromStarlark(value)
			} else {
				out[key.String()] = FromStarlark(value)
			}
		}
		return out
	default:
		return v.String()
	}
}

// kwargsToMap converts builtin kwargs into the adapters' argument shape.
func kwargsToMap(kwargs []starlark.Tuple) map[string]any {
	args := make(map[string]any, len(kwargs))
	for _, pair := range kwargs {
		name, _ := starlark.AsString(pair[0])
		args[name] = FromStarlark(pair[1])
	}
	return args
}

// noPositional rejects positional arguments on keyword-only surfaces.
func noPositional(fn string, args starlark.Tuple) error {
	if len(args) > 0 {
		return errors.New(errors.KindInvalidRequest, "%s: accepts keyword arguments only", fn)
	}
	return nil
}
