package tools

import (
	"strconv"

	"codemode/internal/errors"
)

// BuildRecipe produces the argv for one recipe invocation: start from the
// recipe preset, overlay caller args, apply parameter defaults, validate
// against the schema and emit. Identical inputs always yield identical argv.
func (d *Definition) BuildRecipe(recipeName string, args map[string]any) ([]string, error) {
	recipe, ok := d.Recipes.Get(recipeName)
	if !ok {
		return nil, errors.New(errors.KindNotFound, "tool %q has no recipe %q", d.Name, recipeName)
	}

	for key := range args {
		if _, ok := paramByName(recipe.Params, key); !ok {
			return nil, errors.New(errors.KindUnknownArgument, "recipe %q does not accept argument %q", recipeName, key)
		}
	}

	values := make(map[string]any, len(recipe.Preset)+len(args))
	for key, val := range recipe.Preset {
		values[key] = val
	}
	for _, param := range recipe.Params {
		if val, ok := args[param.Name]; ok {
			values[param.Name] = val
		} else if param.HasDefault {
			values[param.Name] = param.Default
		}
	}
	return d.emitArgv(values)
}

// BuildArgv is the escape-hatch invocation: every schema option and
// positional is directly addressable; no preset applies.
func (d *Definition) BuildArgv(args map[string]any) ([]string, error) {
	for key := range args {
		if !d.Schema.Has(key) {
			return nil, errors.New(errors.KindUnknownArgument, "tool %q does not accept argument %q", d.Name, key)
		}
	}
	values := make(map[string]any, len(args))
	for key, val := range args {
		values[key] = val
	}
	return d.emitArgv(values)
}

func paramByName(params []RecipeParam, name string) (*RecipeParam, bool) {
	for i := range params {
		if params[i].Name == name {
			return &params[i], true
		}
	}
	return nil, false
}

// emitArgv validates merged values and renders argv in the canonical order:
// executable, options in schema declaration order, positionals last.
func (d *Definition) emitArgv(values map[string]any) ([]string, error) {
	for _, opt := range d.Schema.Options {
		if _, present := values[opt.Name]; opt.Required && !present {
			return nil, errors.New(errors.KindMissingArgument, "missing required option %q", opt.Name)
		}
	}
	for _, pos := range d.Schema.Positional {
		if _, present := values[pos.Name]; pos.Required && !present {
			return nil, errors.New(errors.KindMissingArgument, "missing required argument %q", pos.Name)
		}
	}

	argv := []string{d.Command}

	for _, opt := range d.Schema.Options {
		value, present := values[opt.Name]
		if !present {
			continue
		}
		flag := optionFlag(opt)
		switch opt.Type {
		case TypeBoolean:
			b, ok := asBool(value)
			if !ok {
				return nil, typeError(opt.Name, "boolean", value)
			}
			if b {
				argv = append(argv, flag)
			}
		case TypeString:
			s, ok := asStringValue(value)
			if !ok {
				return nil, typeError(opt.Name, "string", value)
			}
			argv = append(argv, flag, s)
		case TypeInteger:
			n, ok := asInt(value)
			if !ok {
				return nil, typeError(opt.Name, "integer", value)
			}
			argv = append(argv, flag, strconv.FormatInt(n, 10))
		case TypeArray:
			items, ok := asStringSlice(value)
			if !ok {
				return nil, typeError(opt.Name, "array of string", value)
			}
			for _, item := range items {
				argv = append(argv, flag, item)
			}
		}
	}

	for _, pos := range d.Schema.Positional {
		value, present := values[pos.Name]
		if !present {
			continue
		}
		switch pos.Type {
		case TypeInteger:
			n, ok := asInt(value)
			if !ok {
				return nil, typeError(pos.Name, "integer", value)
			}
			argv = append(argv, strconv.FormatInt(n, 10))
		default:
			s, ok := asStringValue(value)
			if !ok {
				return nil, typeError(pos.Name, "string", value)
			}
			argv = append(argv, s)
		}
	}
	return argv, nil
}

func optionFlag(opt Option) string {
	if opt.Short != "" && len(opt.Name) > 1 {
		return "-" + opt.Short
	}
	if len(opt.Name) == 1 {
		return "-" + opt.Name
	}
	return "--" + opt.Name
}

func typeError(name, expected string, value any) error {
	return errors.New(errors.KindArgumentType, "argument %q expects %s, got %T", name, expected, value)
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asStringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint64:
		if n > 1<<62 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch items := v.(type) {
	case []string:
		return items, true
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
