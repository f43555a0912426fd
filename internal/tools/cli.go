package tools

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

const (
	defaultCLITimeout = 30 * time.Second
	stderrTailLimit   = 2048
)

// CLIAdapter executes CLI tool definitions. Each call spawns one child
// process with the built argv; no shell is ever involved. Children run in
// their own process group so a timeout can kill the whole tree.
type CLIAdapter struct {
	defs   map[string]*Definition
	order  []string
	logger logging.Logger
}

// NewCLIAdapter wraps a set of parsed CLI definitions.
func NewCLIAdapter(defs []*Definition, logger logging.Logger) *CLIAdapter {
	a := &CLIAdapter{defs: make(map[string]*Definition, len(defs)), logger: logging.OrNop(logger)}
	for _, def := range defs {
		if def.Type != "" && def.Type != "cli" {
			continue
		}
		a.defs[def.Name] = def
		a.order = append(a.order, def.Name)
	}
	return a
}

// LoadCLIAdapter loads every CLI tool YAML in dir.
func LoadCLIAdapter(dir string, logger logging.Logger) (*CLIAdapter, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return nil, err
	}
	var cli []*Definition
	for _, def := range defs {
		if def.Type == "" || def.Type == "cli" {
			cli = append(cli, def)
		}
	}
	return NewCLIAdapter(cli, logger), nil
}

func (a *CLIAdapter) ListTools(ctx context.Context) ([]*Tool, error) {
	out := make([]*Tool, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.defs[name].Tool())
	}
	return out, nil
}

// Definition exposes the parsed definition for a tool, used by namespace
// proxies to render signatures.
func (a *CLIAdapter) Definition(name string) (*Definition, bool) {
	def, ok := a.defs[name]
	return def, ok
}

func (a *CLIAdapter) Call(ctx context.Context, tool, recipe string, args map[string]any) (any, error) {
	def, ok := a.defs[tool]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "tool %q not found", tool)
	}

	var argv []string
	var err error
	if recipe == "" {
		argv, err = def.BuildArgv(args)
	} else {
		argv, err = def.BuildRecipe(recipe, args)
	}
	if err != nil {
		return nil, err
	}

	timeout := defaultCLITimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Second
	}
	return a.run(ctx, def, argv, timeout)
}

func (a *CLIAdapter) run(ctx context.Context, def *Definition, argv []string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.logger.Debug("Running tool %q: %v", def.Name, argv)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(errors.KindToolExecution, err, "start %q", argv[0])
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errors.New(errors.KindToolExecution,
				"tool %q exited with code %d: %s", def.Name, exitErr.ExitCode(), tail(stderr.Bytes()))
		}
		return "", errors.Wrap(errors.KindToolExecution, err, "tool %q", def.Name)
	case <-runCtx.Done():
		// Kill the whole process group, then reap.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if ctx.Err() != nil {
			return "", errors.Wrap(errors.KindToolTimeout, ctx.Err(), "tool %q cancelled", def.Name)
		}
		return "", errors.New(errors.KindToolTimeout, "tool %q timed out after %s", def.Name, timeout)
	}
}

func (a *CLIAdapter) Close() error { return nil }

func tail(data []byte) string {
	if len(data) > stderrTailLimit {
		data = data[len(data)-stderrTailLimit:]
	}
	return string(bytes.TrimSpace(data))
}
