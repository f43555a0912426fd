package namespace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"codemode/internal/deps"
	"codemode/internal/errors"
	"codemode/internal/skills"
	"codemode/internal/store"
)

const echoYAML = `
name: echo
description: print text
command: /bin/echo
schema:
  options:
    no_newline:
      type: boolean
      short: "n"
  positional:
    - name: text
      type: string
      required: true
recipes:
  say:
    description: echo without trailing newline
    preset:
      no_newline: true
    params:
      text: {}
`

type recordingInstaller struct {
	calls [][]string
}

func (r *recordingInstaller) Install(ctx context.Context, specs []string) (*deps.InstallResult, error) {
	r.calls = append(r.calls, specs)
	return &deps.InstallResult{Installed: specs}, nil
}

func bootstrapTest(t *testing.T, policy deps.Policy) *Namespaces {
	t.Helper()
	toolsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "echo.yaml"), []byte(echoYAML), 0o644))

	ns, err := Bootstrap(context.Background(), Config{
		Access:    store.Access{Type: store.TypeFile, BasePath: t.TempDir()},
		ToolsPath: toolsDir,
		Policy:    policy,
		Installer: &recordingInstaller{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ns.Close() })
	return ns
}

func eval(t *testing.T, ns *Namespaces, expr string) (starlark.Value, error) {
	t.Helper()
	thread := &starlark.Thread{Name: "test"}
	SetContext(thread, context.Background())
	return starlark.EvalOptions(skills.Dialect, thread, "test.star", expr, ns.Predeclared())
}

func mustEval(t *testing.T, ns *Namespaces, expr string) starlark.Value {
	t.Helper()
	value, err := eval(t, ns, expr)
	require.NoError(t, err)
	return value
}

func TestToolRecipeCallFromStarlark(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})
	value := mustEval(t, ns, `tools.echo.say(text="hello")`)
	require.Equal(t, "hello", FromStarlark(value))
}

func TestToolEscapeHatchFromStarlark(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})
	value := mustEval(t, ns, `tools.echo(text="raw")`)
	require.Equal(t, "raw\n", FromStarlark(value))
}

func TestToolsListAndSearch(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})

	listed := FromStarlark(mustEval(t, ns, `tools.list()`)).([]any)
	require.Len(t, listed, 1)
	summary := listed[0].(map[string]any)
	require.Equal(t, "echo", summary["name"])
	require.Contains(t, summary["operations"], "say")

	found := FromStarlark(mustEval(t, ns, `tools.search("print")`)).([]any)
	require.Len(t, found, 1)

	_, err := eval(t, ns, `tools.bogus`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")
}

func TestSkillCreateAndInvokeFromStarlark(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})

	mustEval(t, ns, `skills.create(name="double", source="def run(x):\n    return x * 2\n")`)

	value := mustEval(t, ns, `skills.double(x=21)`)
	require.Equal(t, int64(42), FromStarlark(value))

	value = mustEval(t, ns, `skills.invoke("double", x=21)`)
	require.Equal(t, int64(42), FromStarlark(value))
}

func TestSkillSeesToolNamespace(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})

	mustEval(t, ns, `skills.create(name="shout", source="def run(word):\n    return tools.echo.say(text=word.upper())\n")`)

	value := mustEval(t, ns, `skills.shout(word="hi")`)
	require.Equal(t, "HI", FromStarlark(value))
}

func TestSkillListIncludesParams(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})
	mustEval(t, ns, `skills.create(name="greet", source="def run(name, greeting='hi'):\n    return greeting\n", description="say hi")`)

	listed := FromStarlark(mustEval(t, ns, `skills.list()`)).([]any)
	require.Len(t, listed, 1)
	entry := listed[0].(map[string]any)
	require.Equal(t, "greet", entry["name"])
	require.Equal(t, "say hi", entry["description"])
	require.NotContains(t, entry, "source")

	record := FromStarlark(mustEval(t, ns, `skills.get("greet")`)).(map[string]any)
	require.Contains(t, record["source"], "def run")
}

func TestArtifactsRoundTripFromStarlark(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{})

	mustEval(t, ns, `artifacts.save(name="report", data="line one", description="a report")`)

	value := mustEval(t, ns, `artifacts.load("report")`)
	require.Equal(t, "line one", FromStarlark(value))

	listed := FromStarlark(mustEval(t, ns, `artifacts.list()`)).([]any)
	require.Len(t, listed, 1)
	require.Equal(t, "report", listed[0].(map[string]any)["name"])

	require.Equal(t, true, FromStarlark(mustEval(t, ns, `artifacts.delete("report")`)))
	require.Equal(t, false, FromStarlark(mustEval(t, ns, `artifacts.delete("report")`)))
}

func TestDepsPolicyGateSurfacesKind(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{AllowRuntimeInstalls: false})

	_, err := eval(t, ns, `deps.add("pkg-c")`)
	require.True(t, errors.HasKind(err, errors.KindRuntimeDepsDisabled), "got %v", err)

	specs := FromStarlark(mustEval(t, ns, `deps.list()`)).([]any)
	require.Empty(t, specs)
}

func TestDepsAddAndSyncFromStarlark(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{AllowRuntimeInstalls: true})

	require.Equal(t, "installed", FromStarlark(mustEval(t, ns, `deps.add("pkg-a==1.0")`)))

	specs := FromStarlark(mustEval(t, ns, `deps.list()`)).([]any)
	require.Equal(t, []any{"pkg-a==1.0"}, specs)

	synced := FromStarlark(mustEval(t, ns, `deps.sync()`)).(map[string]any)
	require.Equal(t, []any{"pkg-a==1.0"}, synced["already_present"])
}

func TestDepsHidesInternals(t *testing.T) {
	ns := bootstrapTest(t, deps.Policy{AllowRuntimeInstalls: true})
	for _, expr := range []string{`deps.controller`, `deps._policy`, `deps.store`} {
		_, err := eval(t, ns, expr)
		require.Error(t, err, "expr %s", expr)
	}
}

func TestBootstrapIsReproducible(t *testing.T) {
	toolsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "echo.yaml"), []byte(echoYAML), 0o644))
	storeDir := t.TempDir()

	open := func() *Namespaces {
		ns, err := Bootstrap(context.Background(), Config{
			Access:    store.Access{Type: store.TypeFile, BasePath: storeDir},
			ToolsPath: toolsDir,
			Installer: &recordingInstaller{},
		})
		require.NoError(t, err)
		return ns
	}

	first := open()
	mustEval(t, first, `skills.create(name="s1", source="def run():\n    return 1\n")`)
	firstTools := FromStarlark(mustEval(t, first, `tools.list()`))
	firstSkills := FromStarlark(mustEval(t, first, `skills.list()`))
	require.NoError(t, first.Close())

	second := open()
	defer func() { _ = second.Close() }()
	require.Equal(t, firstTools, FromStarlark(mustEval(t, second, `tools.list()`)))
	require.Equal(t, firstSkills, FromStarlark(mustEval(t, second, `skills.list()`)))
}
