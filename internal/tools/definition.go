package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"codemode/internal/errors"
)

// Definition is one tool file. The discriminator selects the adapter:
// absent or "cli" for command-line tools, "mcp" for stdio JSON-RPC servers,
// "http" for REST endpoints.
type Definition struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`

	// CLI fields.
	Command string    `yaml:"command"`
	Timeout int       `yaml:"timeout"`
	Schema  Schema    `yaml:"schema"`
	Recipes RecipeSet `yaml:"recipes"`

	// MCP fields.
	Args []string          `yaml:"args"`
	Env  map[string]string `yaml:"env"`

	// HTTP fields.
	BaseURL   string        `yaml:"base_url"`
	Endpoints []HTTPBinding `yaml:"-"`
}

// Option is a named flag. Declaration order in the YAML mapping is the argv
// emission order, so Schema keeps options as an ordered slice.
type Option struct {
	Name        string
	Type        ParamType
	Short       string
	Required    bool
	Description string
}

// Positional is an ordered trailing argument.
type Positional struct {
	Name        string    `yaml:"name"`
	Type        ParamType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Description string    `yaml:"description"`
}

// Schema declares the full invocation surface of a CLI tool.
type Schema struct {
	Options    []Option
	Positional []Positional
}

// Option looks up an option by name.
func (s *Schema) Option(name string) (*Option, bool) {
	for i := range s.Options {
		if s.Options[i].Name == name {
			return &s.Options[i], true
		}
	}
	return nil, false
}

// PositionalByName looks up a positional by name.
func (s *Schema) PositionalByName(name string) (*Positional, bool) {
	for i := range s.Positional {
		if s.Positional[i].Name == name {
			return &s.Positional[i], true
		}
	}
	return nil, false
}

// Has reports whether name is declared as an option or positional.
func (s *Schema) Has(name string) bool {
	if _, ok := s.Option(name); ok {
		return true
	}
	_, ok := s.PositionalByName(name)
	return ok
}

// UnmarshalYAML preserves the declaration order of the options mapping.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Options    yaml.Node    `yaml:"options"`
		Positional []Positional `yaml:"positional"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.Positional = raw.Positional

	if raw.Options.Kind == 0 {
		return nil
	}
	if raw.Options.Kind != yaml.MappingNode {
		return fmt.Errorf("schema.options must be a mapping")
	}
	for i := 0; i+1 < len(raw.Options.Content); i += 2 {
		keyNode, valNode := raw.Options.Content[i], raw.Options.Content[i+1]
		var body struct {
			Type        ParamType `yaml:"type"`
			Short       string    `yaml:"short"`
			Required    bool      `yaml:"required"`
			Description string    `yaml:"description"`
		}
		if err := valNode.Decode(&body); err != nil {
			return fmt.Errorf("option %q: %w", keyNode.Value, err)
		}
		s.Options = append(s.Options, Option{
			Name:        keyNode.Value,
			Type:        body.Type,
			Short:       body.Short,
			Required:    body.Required,
			Description: body.Description,
		})
	}
	return nil
}

// RecipeParam is one agent-visible parameter of a recipe.
type RecipeParam struct {
	Name       string
	Default    any
	HasDefault bool
}

// Recipe narrows a tool to one named operation: fixed preset values plus an
// explicit exposed parameter list.
type Recipe struct {
	Name        string
	Description string
	Preset      map[string]any
	Params      []RecipeParam
}

// RecipeSet is an ordered collection of recipes.
type RecipeSet []Recipe

// Get looks up a recipe by name.
func (rs RecipeSet) Get(name string) (*Recipe, bool) {
	for i := range rs {
		if rs[i].Name == name {
			return &rs[i], true
		}
	}
	return nil, false
}

// UnmarshalYAML preserves recipe and parameter declaration order.
func (rs *RecipeSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("recipes must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var body struct {
			Description string         `yaml:"description"`
			Preset      map[string]any `yaml:"preset"`
			Params      yaml.Node      `yaml:"params"`
		}
		if err := valNode.Decode(&body); err != nil {
			return fmt.Errorf("recipe %q: %w", keyNode.Value, err)
		}
		recipe := Recipe{
			Name:        keyNode.Value,
			Description: body.Description,
			Preset:      body.Preset,
		}
		if recipe.Preset == nil {
			recipe.Preset = map[string]any{}
		}
		if body.Params.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(body.Params.Content); j += 2 {
				pKey, pVal := body.Params.Content[j], body.Params.Content[j+1]
				var spec map[string]any
				if err := pVal.Decode(&spec); err != nil {
					return fmt.Errorf("recipe %q param %q: %w", keyNode.Value, pKey.Value, err)
				}
				param := RecipeParam{Name: pKey.Value}
				if def, ok := spec["default"]; ok {
					param.Default = def
					param.HasDefault = true
				}
				recipe.Params = append(recipe.Params, param)
			}
		}
		*rs = append(*rs, recipe)
	}
	return nil
}

// HTTPBinding is one endpoint of an HTTP tool.
type HTTPBinding struct {
	Name        string `yaml:"name"`
	Method      string `yaml:"method"`
	PathTemplate string `yaml:"path"`
	Description string `yaml:"description"`
}

// ParseDefinition decodes and validates one tool YAML document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(errors.KindSchemaError, err, "parse tool definition")
	}

	// Endpoints live under a separate key so the zero Definition decodes
	// cleanly for non-HTTP tools.
	if def.Type == "http" {
		var raw struct {
			Endpoints []HTTPBinding `yaml:"endpoints"`
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(errors.KindSchemaError, err, "parse endpoints")
		}
		def.Endpoints = raw.Endpoints
	}

	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return errors.New(errors.KindSchemaError, "tool name is required")
	}
	switch d.Type {
	case "", "cli":
		return d.validateCLI()
	case "mcp":
		if d.Command == "" {
			return errors.New(errors.KindSchemaError, "tool %q: mcp tools require a command", d.Name)
		}
		return nil
	case "http":
		if d.BaseURL == "" {
			return errors.New(errors.KindSchemaError, "tool %q: http tools require base_url", d.Name)
		}
		if len(d.Endpoints) == 0 {
			return errors.New(errors.KindSchemaError, "tool %q: http tools require endpoints", d.Name)
		}
		return nil
	default:
		return errors.New(errors.KindSchemaError, "tool %q: unknown type %q", d.Name, d.Type)
	}
}

func (d *Definition) validateCLI() error {
	if d.Command == "" {
		return errors.New(errors.KindSchemaError, "tool %q: command is required", d.Name)
	}

	shorts := map[string]string{}
	for _, opt := range d.Schema.Options {
		if !opt.Type.valid() {
			return errors.New(errors.KindSchemaError, "tool %q: option %q has invalid type %q", d.Name, opt.Name, opt.Type)
		}
		if opt.Short != "" {
			if len(opt.Short) != 1 {
				return errors.New(errors.KindSchemaError, "tool %q: option %q short alias must be one character", d.Name, opt.Name)
			}
			if prev, dup := shorts[opt.Short]; dup {
				return errors.New(errors.KindSchemaError, "tool %q: short alias -%s declared by both %q and %q", d.Name, opt.Short, prev, opt.Name)
			}
			shorts[opt.Short] = opt.Name
		}
	}
	for _, pos := range d.Schema.Positional {
		if pos.Type == "" {
			continue
		}
		if pos.Type != TypeString && pos.Type != TypeInteger {
			return errors.New(errors.KindSchemaError, "tool %q: positional %q has invalid type %q", d.Name, pos.Name, pos.Type)
		}
	}

	for _, recipe := range d.Recipes {
		for key := range recipe.Preset {
			if !d.Schema.Has(key) {
				return errors.New(errors.KindSchemaError, "tool %q: recipe %q preset key %q is not declared in schema", d.Name, recipe.Name, key)
			}
		}
		for _, param := range recipe.Params {
			if !d.Schema.Has(param.Name) {
				return errors.New(errors.KindSchemaError, "tool %q: recipe %q param %q is not declared in schema", d.Name, recipe.Name, param.Name)
			}
		}
	}
	return nil
}

// Tool renders the agent-visible descriptor of this definition.
func (d *Definition) Tool() *Tool {
	tool := &Tool{Name: d.Name, Description: d.Description, Tags: d.Tags}

	switch d.Type {
	case "", "cli":
		for _, recipe := range d.Recipes {
			callable := Callable{Name: recipe.Name, Description: recipe.Description}
			for _, param := range recipe.Params {
				p := Parameter{Name: param.Name, Default: param.Default, HasDefault: param.HasDefault}
				if opt, ok := d.Schema.Option(param.Name); ok {
					p.Type = opt.Type
					p.Description = opt.Description
					p.Required = opt.Required && !param.HasDefault
				} else if pos, ok := d.Schema.PositionalByName(param.Name); ok {
					p.Type = pos.Type
					if p.Type == "" {
						p.Type = TypeString
					}
					p.Description = pos.Description
					p.Required = pos.Required && !param.HasDefault
				}
				callable.Parameters = append(callable.Parameters, p)
			}
			tool.Callables = append(tool.Callables, callable)
		}
		// Escape hatch: the whole schema, exposed directly.
		escape := Callable{Name: d.Name, Description: d.Description}
		for _, opt := range d.Schema.Options {
			escape.Parameters = append(escape.Parameters, Parameter{
				Name: opt.Name, Type: opt.Type, Required: opt.Required, Description: opt.Description,
			})
		}
		for _, pos := range d.Schema.Positional {
			pt := pos.Type
			if pt == "" {
				pt = TypeString
			}
			escape.Parameters = append(escape.Parameters, Parameter{
				Name: pos.Name, Type: pt, Required: pos.Required, Description: pos.Description,
			})
		}
		tool.Callables = append(tool.Callables, escape)
	case "http":
		for _, ep := range d.Endpoints {
			tool.Callables = append(tool.Callables, Callable{Name: ep.Name, Description: ep.Description})
		}
	}
	return tool
}

// LoadDefinitions parses every *.yaml / *.yml file in dir, one tool per file.
func LoadDefinitions(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read tools directory %s", dir)
	}
	var defs []*Definition
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read %s", name)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, errors.Wrap(errors.KindSchemaError, err, "%s", name)
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
