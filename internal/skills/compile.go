package skills

import (
	"regexp"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"codemode/internal/errors"
)

// Dialect is the interpreter dialect shared by skill compilation and the
// executors: Python-flavoured Starlark with reassignment, loops and
// recursion enabled so agent code behaves like a REPL.
var Dialect = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

var skillNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName checks the programmatic-identifier constraint on skill names.
func ValidateName(name string) error {
	if !skillNameRE.MatchString(name) {
		return errors.New(errors.KindInvalidRequest, "invalid skill name %q: must match [A-Za-z_][A-Za-z0-9_]*", name)
	}
	return nil
}

// Param is one parameter of a skill's run function.
type Param struct {
	Name       string `json:"name"`
	HasDefault bool   `json:"has_default"`
	Default    string `json:"default,omitempty"`
}

// Compiled is a parsed and resolved skill: its program, the signature of
// run, and the leading docstring.
type Compiled struct {
	prog       *starlark.Program
	Params     []Param
	Docstring  string
	hasVarargs bool
	hasKwargs  bool
}

// Compile parses source, verifies it defines a top-level run function, and
// resolves it against the predeclared namespace names.
func Compile(name, source string, isPredeclared func(string) bool) (*Compiled, error) {
	file, err := Dialect.Parse(name+".star", source, 0)
	if err != nil {
		return nil, errors.Wrap(errors.KindCorrupt, err, "skill %q does not parse", name)
	}

	var def *syntax.DefStmt
	for _, stmt := range file.Stmts {
		if d, ok := stmt.(*syntax.DefStmt); ok && d.Name.Name == "run" {
			def = d
			break
		}
	}
	if def == nil {
		return nil, errors.New(errors.KindCorrupt, "skill %q does not define a top-level run function", name)
	}

	compiled := &Compiled{Docstring: docstring(def)}
	for _, expr := range def.Params {
		switch p := expr.(type) {
		case *syntax.Ident:
			compiled.Params = append(compiled.Params, Param{Name: p.Name})
		case *syntax.BinaryExpr:
			if p.Op != syntax.EQ {
				continue
			}
			ident, ok := p.X.(*syntax.Ident)
			if !ok {
				continue
			}
			param := Param{Name: ident.Name, HasDefault: true}
			if lit, ok := p.Y.(*syntax.Literal); ok {
				param.Default = lit.Raw
			} else {
				param.Default = "..."
			}
			compiled.Params = append(compiled.Params, param)
		case *syntax.UnaryExpr:
			switch p.Op {
			case syntax.STAR:
				compiled.hasVarargs = true
			case syntax.STARSTAR:
				compiled.hasKwargs = true
			}
		}
	}

	prog, err := starlark.FileProgram(file, isPredeclared)
	if err != nil {
		return nil, errors.Wrap(errors.KindCorrupt, err, "skill %q does not resolve", name)
	}
	compiled.prog = prog
	return compiled, nil
}

// BindCheck validates keyword arguments against the run signature before the
// interpreter sees them, so argument errors carry the right kinds.
func (c *Compiled) BindCheck(kwargs []starlark.Tuple) error {
	provided := make(map[string]bool, len(kwargs))
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		if !c.hasKwargs {
			if _, ok := c.param(name); !ok {
				return errors.New(errors.KindUnknownArgument, "run() got an unexpected argument %q", name)
			}
		}
		provided[name] = true
	}
	for _, param := range c.Params {
		if !param.HasDefault && !provided[param.Name] {
			return errors.New(errors.KindMissingArgument, "run() missing required argument %q", param.Name)
		}
	}
	return nil
}

func (c *Compiled) param(name string) (*Param, bool) {
	for i := range c.Params {
		if c.Params[i].Name == name {
			return &c.Params[i], true
		}
	}
	return nil, false
}

// Invoke executes the skill module under predeclared and calls its run
// function with kwargs. Module top-level statements run on every call; the
// call frame (and its params) is fresh per invocation.
func (c *Compiled) Invoke(thread *starlark.Thread, predeclared starlark.StringDict, kwargs []starlark.Tuple) (starlark.Value, error) {
	globals, err := c.prog.Init(thread, predeclared)
	if err != nil {
		return nil, errors.Wrap(errors.KindSkillError, err, "skill module init")
	}
	fn, ok := globals["run"].(starlark.Callable)
	if !ok {
		return nil, errors.New(errors.KindCorrupt, "run is not callable")
	}
	value, err := starlark.Call(thread, fn, nil, kwargs)
	if err != nil {
		return nil, wrapSkillError(err)
	}
	return value, nil
}

func wrapSkillError(err error) error {
	// Errors raised by tools or nested skills keep their original kinds;
	// plain interpreter failures become SkillError.
	if kind := errors.KindOf(err); kind != errors.KindRuntime {
		return err
	}
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return &errors.Error{
			Kind:    errors.KindSkillError,
			Message: evalErr.Msg,
			Trace:   evalErr.Backtrace(),
			Err:     evalErr,
		}
	}
	return errors.Wrap(errors.KindSkillError, err, "skill execution")
}

func docstring(def *syntax.DefStmt) string {
	if len(def.Body) == 0 {
		return ""
	}
	exprStmt, ok := def.Body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := exprStmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	s, _ := lit.Value.(string)
	return s
}
