package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

func TestSchemaPreservesOptionOrder(t *testing.T) {
	def := parseCurl(t)
	var names []string
	for _, opt := range def.Schema.Options {
		names = append(names, opt.Name)
	}
	require.Equal(t, []string{"silent", "location", "header", "max-time"}, names)
}

func TestDuplicateShortAliasRejected(t *testing.T) {
	const bad = `
name: t
command: t
schema:
  options:
    silent:
      type: boolean
      short: s
    sort:
      type: string
      short: s
`
	_, err := ParseDefinition([]byte(bad))
	require.True(t, errors.HasKind(err, errors.KindSchemaError), "got %v", err)
}

func TestPresetKeyMustExistInSchema(t *testing.T) {
	const bad = `
name: t
command: t
schema:
  options:
    a:
      type: boolean
recipes:
  r:
    preset: {nope: true}
`
	_, err := ParseDefinition([]byte(bad))
	require.True(t, errors.HasKind(err, errors.KindSchemaError), "got %v", err)
}

func TestDefinitionRequiresNameAndCommand(t *testing.T) {
	_, err := ParseDefinition([]byte(`description: nameless`))
	require.True(t, errors.HasKind(err, errors.KindSchemaError))

	_, err = ParseDefinition([]byte(`name: commandless`))
	require.True(t, errors.HasKind(err, errors.KindSchemaError))
}

func TestToolDescriptorExposesRecipesAndEscapeHatch(t *testing.T) {
	def := parseCurl(t)
	tool := def.Tool()
	require.Equal(t, "curl", tool.Name)
	require.Len(t, tool.Callables, 2)

	get, ok := tool.Callable("get")
	require.True(t, ok)
	require.Len(t, get.Parameters, 1)
	require.Equal(t, "url", get.Parameters[0].Name)
	require.True(t, get.Parameters[0].Required)

	escape, ok := tool.Callable("curl")
	require.True(t, ok)
	require.Len(t, escape.Parameters, 5)
}

func TestLoadDefinitionsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curl.yaml"), []byte(curlYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "curl", defs[0].Name)

	adapter, err := LoadCLIAdapter(dir, logging.Nop())
	require.NoError(t, err)
	tools, err := adapter.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestHTTPDefinition(t *testing.T) {
	const httpYAML = `
name: github
type: http
description: GitHub REST API
base_url: https://api.github.com
endpoints:
  - name: repo
    method: GET
    path: /repos/{owner}/{repo}
    description: fetch repo metadata
`
	def, err := ParseDefinition([]byte(httpYAML))
	require.NoError(t, err)
	require.Equal(t, "http", def.Type)
	require.Len(t, def.Endpoints, 1)
	require.Equal(t, "/repos/{owner}/{repo}", def.Endpoints[0].PathTemplate)

	tool := def.Tool()
	_, ok := tool.Callable("repo")
	require.True(t, ok)
}
