package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/tools"
)

// Adapter exposes one MCP server as a single registry tool whose callables
// are the server's tools. The child process is launched once per adapter;
// a lock serializes requests over the single stdio channel, and a dead
// child is relaunched on the next call.
type Adapter struct {
	def    *tools.Definition
	pm     *ProcessManager
	client *Client
	mu     sync.Mutex
	closed bool
	logger logging.Logger
}

// NewAdapter creates an adapter for one MCP tool definition and starts the
// server process.
func NewAdapter(ctx context.Context, def *tools.Definition, logger logging.Logger) (*Adapter, error) {
	a := &Adapter{def: def, logger: logging.OrNop(logger)}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) connect(ctx context.Context) error {
	a.pm = NewProcessManager(ProcessConfig{
		Command: a.def.Command,
		Args:    a.def.Args,
		Env:     a.def.Env,
	})
	if err := a.pm.Start(ctx); err != nil {
		return err
	}
	stdout, stdin := a.pm.Stdio()
	client, err := NewClient(ctx, stdout, stdin, a.def.Name)
	if err != nil {
		_ = a.pm.Stop(2 * time.Second)
		return err
	}
	a.client = client
	return nil
}

// ensureConnected relaunches the child if it died. Caller holds a.mu.
func (a *Adapter) ensureConnected(ctx context.Context) error {
	if a.closed {
		return errors.New(errors.KindExecutorClosed, "mcp adapter %q is closed", a.def.Name)
	}
	if a.pm.IsRunning() {
		return nil
	}
	a.logger.Warn("MCP server %q is down, reconnecting", a.def.Name)
	return a.connect(ctx)
}

func (a *Adapter) ListTools(ctx context.Context) ([]*tools.Tool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	schemas, err := a.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	tool := &tools.Tool{Name: a.def.Name, Description: a.def.Description, Tags: a.def.Tags}
	for _, schema := range schemas {
		tool.Callables = append(tool.Callables, toCallable(schema))
	}
	return []*tools.Tool{tool}, nil
}

func (a *Adapter) Call(ctx context.Context, tool, recipe string, args map[string]any) (any, error) {
	if tool != a.def.Name {
		return nil, errors.New(errors.KindNotFound, "tool %q not found", tool)
	}
	if recipe == "" {
		return nil, errors.New(errors.KindInvalidRequest, "mcp tool %q requires an operation name", tool)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	result, err := a.client.CallTool(ctx, recipe, args)
	if err != nil {
		return nil, err
	}
	return result.Text(), nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.pm.Stop(5 * time.Second)
}

// toCallable translates an MCP inputSchema (JSON Schema object) into the
// registry's parameter model.
func toCallable(schema ToolSchema) tools.Callable {
	callable := tools.Callable{Name: schema.Name, Description: schema.Description}

	props, _ := schema.InputSchema["properties"].(map[string]any)
	required := map[string]bool{}
	if reqs, ok := schema.InputSchema["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		param := tools.Parameter{Name: name, Required: required[name], Type: tools.TypeString}
		if body, ok := props[name].(map[string]any); ok {
			switch body["type"] {
			case "boolean":
				param.Type = tools.TypeBoolean
			case "integer", "number":
				param.Type = tools.TypeInteger
			case "array":
				param.Type = tools.TypeArray
			}
			if desc, ok := body["description"].(string); ok {
				param.Description = desc
			}
		}
		callable.Parameters = append(callable.Parameters, param)
	}
	return callable
}
