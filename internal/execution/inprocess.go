package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/namespace"
	"codemode/internal/skills"
)

const defaultExecTimeout = 30 * time.Second

// InProcess runs agent code on an embedded Starlark interpreter sharing the
// host process. The module globals persist across Execute calls; Reset
// rebuilds them from the predeclared namespaces. Timeouts are cooperative
// (Thread.Cancel), which Starlark honors even inside tight loops.
type InProcess struct {
	bootstrap      namespace.Config
	defaultTimeout time.Duration
	logger         logging.Logger

	mu      sync.Mutex
	ns      *namespace.Namespaces
	globals starlark.StringDict
	started bool
	closed  bool
}

// NewInProcess creates an executor that bootstraps its namespaces on Start.
func NewInProcess(bootstrap namespace.Config, defaultTimeout time.Duration, logger logging.Logger) *InProcess {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultExecTimeout
	}
	return &InProcess{
		bootstrap:      bootstrap,
		defaultTimeout: defaultTimeout,
		logger:         logging.OrNop(logger),
	}
}

func (e *InProcess) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if e.started {
		return nil
	}
	ns, err := namespace.Bootstrap(ctx, e.bootstrap)
	if err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "bootstrap namespaces")
	}
	e.ns = ns
	e.globals = freshGlobals(ns)
	e.started = true
	return nil
}

// Namespaces exposes the bootstrapped components for host-side facade
// operations. Nil before Start.
func (e *InProcess) Namespaces() *namespace.Namespaces {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ns
}

func (e *InProcess) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if !e.started {
		return nil, errors.New(errors.KindExecutorUnavailable, "executor is not started")
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	started := time.Now()
	result := &Result{}

	file, err := skills.Dialect.Parse("<input>", code, 0)
	if err != nil {
		result.Error = &WireError{Kind: string(errors.KindSyntax), Message: err.Error()}
		result.DurationMS = time.Since(started).Milliseconds()
		return result, nil
	}

	// A trailing expression statement becomes the result value; everything
	// before it executes as a REPL chunk against the persistent globals.
	var trailing syntax.Expr
	if n := len(file.Stmts); n > 0 {
		if exprStmt, ok := file.Stmts[n-1].(*syntax.ExprStmt); ok {
			trailing = exprStmt.X
			file.Stmts = file.Stmts[:n-1]
		}
	}

	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "exec",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}
	namespace.SetContext(thread, ctx)

	var interrupted atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		interrupted.Store(true)
		thread.Cancel("timeout")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		interrupted.Store(true)
		thread.Cancel("cancelled")
	})
	defer stop()

	execErr := starlark.ExecREPLChunk(file, thread, e.globals)
	var value starlark.Value = starlark.None
	if execErr == nil && trailing != nil {
		value, execErr = starlark.EvalExprOptions(file.Options, thread, trailing, e.globals)
	}

	result.Stdout = stdout.String()
	result.DurationMS = time.Since(started).Milliseconds()

	if execErr != nil {
		if interrupted.Load() {
			result.Error = &WireError{
				Kind:    string(errors.KindTimeout),
				Message: fmt.Sprintf("execution exceeded %s", timeout),
			}
		} else {
			result.Error = wireError(execErr)
		}
		return result, nil
	}
	if trailing != nil {
		result.Value = namespace.FromStarlark(value)
	}
	return result, nil
}

// Reset discards user bindings and rebuilds the globals from the injected
// namespaces.
func (e *InProcess) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if !e.started {
		return errors.New(errors.KindExecutorUnavailable, "executor is not started")
	}
	e.globals = freshGlobals(e.ns)
	return nil
}

func (e *InProcess) Capabilities() []string {
	return []string{CapTimeout, CapReset, CapDepsInstall}
}

func (e *InProcess) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.ns != nil {
		return e.ns.Close()
	}
	return nil
}

func freshGlobals(ns *namespace.Namespaces) starlark.StringDict {
	globals := make(starlark.StringDict, len(ns.Predeclared()))
	for name, value := range ns.Predeclared() {
		globals[name] = value
	}
	return globals
}
