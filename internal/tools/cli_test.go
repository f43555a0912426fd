package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

func echoAdapter(t *testing.T) *CLIAdapter {
	t.Helper()
	const echoYAML = `
name: echo
command: /bin/echo
schema:
  positional:
    - name: text
      type: string
      required: true
recipes:
  say:
    params:
      text: {}
`
	def, err := ParseDefinition([]byte(echoYAML))
	require.NoError(t, err)
	return NewCLIAdapter([]*Definition{def}, logging.Nop())
}

func TestCLICallCapturesStdout(t *testing.T) {
	adapter := echoAdapter(t)
	out, err := adapter.Call(context.Background(), "echo", "say", map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)
}

func TestCLICallEscapeHatch(t *testing.T) {
	adapter := echoAdapter(t)
	out, err := adapter.Call(context.Background(), "echo", "", map[string]any{"text": "raw"})
	require.NoError(t, err)
	require.Equal(t, "raw\n", out)
}

func TestCLINonZeroExitReportsStderrTail(t *testing.T) {
	const failYAML = `
name: fail
command: /bin/sh
schema:
  options:
    c:
      type: string
`
	def, err := ParseDefinition([]byte(failYAML))
	require.NoError(t, err)
	adapter := NewCLIAdapter([]*Definition{def}, logging.Nop())

	_, err = adapter.Call(context.Background(), "fail", "", map[string]any{"c": "echo boom >&2; exit 3"})
	require.True(t, errors.HasKind(err, errors.KindToolExecution), "got %v", err)
	require.Contains(t, err.Error(), "code 3")
	require.Contains(t, err.Error(), "boom")
}

func TestCLITimeoutKillsProcess(t *testing.T) {
	const sleepYAML = `
name: sleeper
command: /bin/sleep
timeout: 1
schema:
  positional:
    - name: seconds
      type: string
      required: true
`
	def, err := ParseDefinition([]byte(sleepYAML))
	require.NoError(t, err)
	adapter := NewCLIAdapter([]*Definition{def}, logging.Nop())

	start := time.Now()
	_, err = adapter.Call(context.Background(), "sleeper", "", map[string]any{"seconds": "30"})
	require.True(t, errors.HasKind(err, errors.KindToolTimeout), "got %v", err)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestCLIUnknownTool(t *testing.T) {
	adapter := echoAdapter(t)
	_, err := adapter.Call(context.Background(), "nope", "", nil)
	require.True(t, errors.HasKind(err, errors.KindNotFound))
}

func TestRegistryRejectsDuplicateTool(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(logging.Nop())
	require.NoError(t, registry.Register(ctx, echoAdapter(t)))

	err := registry.Register(ctx, echoAdapter(t))
	require.True(t, errors.HasKind(err, errors.KindDuplicateTool), "got %v", err)
}

func TestRegistryRoutesAndSearches(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(logging.Nop())
	require.NoError(t, registry.Register(ctx, echoAdapter(t)))

	out, err := registry.Call(ctx, "echo", "say", map[string]any{"text": "via registry"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.(string), "via registry"))

	results := registry.Search("echo", 5)
	require.Len(t, results, 1)
	require.Equal(t, "echo", results[0].Name)

	require.Empty(t, registry.Search("zzz-no-match", 5))

	_, err = registry.Call(ctx, "missing", "", nil)
	require.True(t, errors.HasKind(err, errors.KindNotFound))
}
