// Package namespace builds the four agent-visible Starlark objects (tools,
// skills, artifacts, deps) and bootstraps them from a storage access
// descriptor plus a tools directory. The same bootstrap runs in the host
// process, the subprocess kernel and the container, so every interpreter
// sees identical namespaces.
package namespace

import (
	"context"

	"go.starlark.net/starlark"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"

	"codemode/internal/deps"
	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/mcp"
	"codemode/internal/skills"
	"codemode/internal/store"
	"codemode/internal/tools"
)

const threadContextKey = "codemode.context"

// SetContext attaches ctx to a Starlark thread so builtins can observe
// cancellation. The executor sets it once per execute.
func SetContext(thread *starlark.Thread, ctx context.Context) {
	thread.SetLocal(threadContextKey, ctx)
}

// threadContext returns the context attached to thread, or Background.
func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(threadContextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// Config carries everything a bootstrap needs. Installer and Embedder are
// optional: a nil Installer falls back to the PATH-resolved pip command, a
// nil Embedder degrades skill search to substring matching.
type Config struct {
	Access    store.Access
	ToolsPath string
	Policy    deps.Policy
	Installer deps.Installer
	Embedder  skills.Embedder
	Logger    logging.Logger
}

// Namespaces owns the bootstrapped components and the predeclared dict
// handed to every Starlark thread.
type Namespaces struct {
	Storage  store.Storage
	Registry *tools.Registry
	Library  *skills.Library
	Deps     *deps.Controller

	predeclared starlark.StringDict
	logger      logging.Logger
}

// Bootstrap opens storage from the descriptor, loads tool definitions,
// compiles the skill library and assembles the predeclared dict. Identical
// inputs produce identical visible namespaces in any process.
func Bootstrap(ctx context.Context, cfg Config) (*Namespaces, error) {
	logger := logging.OrNop(cfg.Logger)

	storage, err := store.Open(ctx, cfg.Access, logger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	if cfg.ToolsPath != "" {
		if err := registerTools(ctx, registry, cfg.ToolsPath, logger); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}

	installer := cfg.Installer
	if installer == nil {
		installer = deps.NewExecInstaller(logger)
	}

	ns := &Namespaces{
		Storage:  storage,
		Registry: registry,
		Deps:     deps.NewController(storage.Deps(), installer, cfg.Policy, logger),
		logger:   logger,
	}
	ns.predeclared = starlark.StringDict{
		"tools":     &toolsValue{ns: ns},
		"skills":    &skillsValue{ns: ns},
		"artifacts": &artifactsValue{ns: ns},
		"deps":      &depsValue{ns: ns},
		"json":      starlarkjson.Module,
		"math":      starlarkmath.Module,
		"time":      starlarktime.Module,
	}

	// The library compiles skills against the finished predeclared set, so
	// it is created after the dict is populated.
	ns.Library = skills.NewLibrary(storage.Skills(), cfg.Embedder, ns.IsPredeclared, logger)
	if err := ns.Library.Load(ctx); err != nil {
		_ = ns.Close()
		return nil, err
	}
	return ns, nil
}

func registerTools(ctx context.Context, registry *tools.Registry, dir string, logger logging.Logger) error {
	defs, err := tools.LoadDefinitions(dir)
	if err != nil {
		return err
	}

	var cli, http []*tools.Definition
	for _, def := range defs {
		switch def.Type {
		case "", "cli":
			cli = append(cli, def)
		case "http":
			http = append(http, def)
		case "mcp":
			adapter, err := mcp.NewAdapter(ctx, def, logger)
			if err != nil {
				return errors.Wrap(errors.KindOf(err), err, "mcp tool %q", def.Name)
			}
			if err := registry.Register(ctx, adapter); err != nil {
				return err
			}
		}
	}
	if len(cli) > 0 {
		if err := registry.Register(ctx, tools.NewCLIAdapter(cli, logger)); err != nil {
			return err
		}
	}
	if len(http) > 0 {
		if err := registry.Register(ctx, tools.NewHTTPAdapter(http, logger)); err != nil {
			return err
		}
	}
	return nil
}

// Predeclared returns the dict injected into every execution thread.
func (n *Namespaces) Predeclared() starlark.StringDict {
	return n.predeclared
}

// IsPredeclared reports whether name is a namespace or stdlib binding.
func (n *Namespaces) IsPredeclared(name string) bool {
	return n.predeclared.Has(name)
}

// Close releases adapters and storage.
func (n *Namespaces) Close() error {
	err := n.Registry.Close()
	if cerr := n.Storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
