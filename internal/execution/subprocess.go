package execution

import (
	"context"
	"os"
	"sync"
	"time"

	"codemode/internal/errors"
	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
	"codemode/internal/mcp"
	"codemode/internal/store"
)

const (
	defaultStartupTimeout = 10 * time.Second
	defaultKillGrace      = 2 * time.Second
)

// SubprocessConfig configures the subprocess-kernel executor. Command
// defaults to re-executing the current binary with a "kernel" argument.
type SubprocessConfig struct {
	Command string
	Args    []string
	Env     map[string]string

	Access               store.Access
	ToolsPath            string
	AllowRuntimeInstalls bool
	SyncDepsOnStart      bool

	StartupTimeout time.Duration
	DefaultTimeout time.Duration
	// KillGrace is how long past a request timeout the kernel may stay
	// unresponsive before it is killed and restarted.
	KillGrace time.Duration
}

// Subprocess drives a kernel child process over stdio JSON-RPC. The channel
// is strictly ordered: one in-flight execute at a time. An unresponsive
// kernel is killed and restarted, losing interpreter state; the caller
// observes Timeout.
type Subprocess struct {
	cfg    SubprocessConfig
	logger logging.Logger

	mu      sync.Mutex
	pm      *mcp.ProcessManager
	conn    *jsonrpc.Conn
	started bool
	closed  bool
}

// NewSubprocess creates the executor; nothing is spawned until Start.
func NewSubprocess(cfg SubprocessConfig, logger logging.Logger) *Subprocess {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultExecTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.Command == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.Command = exe
			cfg.Args = []string{"kernel"}
		}
	}
	return &Subprocess{cfg: cfg, logger: logging.OrNop(logger)}
}

func (e *Subprocess) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if e.started {
		return nil
	}
	if err := e.launch(ctx); err != nil {
		return err
	}
	e.started = true
	return nil
}

// launch spawns the kernel, waits for readiness and bootstraps it. Caller
// holds e.mu.
func (e *Subprocess) launch(ctx context.Context) error {
	pm := mcp.NewProcessManager(mcp.ProcessConfig{
		Command: e.cfg.Command,
		Args:    e.cfg.Args,
		Env:     e.cfg.Env,
	})
	if err := pm.Start(ctx); err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "start kernel")
	}
	stdout, stdin := pm.Stdio()
	conn := jsonrpc.NewConn(stdout, stdin, e.logger)

	readyCtx, cancel := context.WithTimeout(ctx, e.cfg.StartupTimeout)
	defer cancel()
	if err := conn.Call(readyCtx, methodPing, nil, nil); err != nil {
		_ = pm.Stop(e.cfg.KillGrace)
		return errors.Wrap(errors.KindExecutorUnavailable, err, "kernel did not become ready within %s", e.cfg.StartupTimeout)
	}

	params := BootstrapParams{
		Access:               e.cfg.Access,
		ToolsPath:            e.cfg.ToolsPath,
		AllowRuntimeInstalls: e.cfg.AllowRuntimeInstalls,
		SyncDeps:             e.cfg.SyncDepsOnStart,
		DefaultTimeoutMS:     e.cfg.DefaultTimeout.Milliseconds(),
	}
	if err := conn.Call(readyCtx, methodBootstrap, params, nil); err != nil {
		_ = pm.Stop(e.cfg.KillGrace)
		return restoreKind(err, "bootstrap kernel")
	}

	e.pm = pm
	e.conn = conn
	return nil
}

func (e *Subprocess) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if !e.started {
		return nil, errors.New(errors.KindExecutorUnavailable, "executor is not started")
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	// The kernel enforces the timeout cooperatively; the wire deadline adds
	// the kill grace on top for an unresponsive child.
	callCtx, cancel := context.WithTimeout(ctx, timeout+e.cfg.KillGrace)
	defer cancel()

	started := time.Now()
	var result Result
	err := e.conn.Call(callCtx, methodExecute, ExecuteParams{
		Code:      code,
		TimeoutMS: timeout.Milliseconds(),
	}, &result)
	if err == nil {
		return &result, nil
	}

	if callCtx.Err() != nil && ctx.Err() == nil {
		// Kernel missed its deadline plus grace: kill, restart, surface
		// Timeout. Interpreter state is lost.
		e.logger.Warn("Kernel unresponsive past %s, restarting", timeout+e.cfg.KillGrace)
		if rerr := e.restart(ctx); rerr != nil {
			return nil, rerr
		}
		return &Result{
			DurationMS: time.Since(started).Milliseconds(),
			Error: &WireError{
				Kind:    string(errors.KindTimeout),
				Message: "execution exceeded " + timeout.String() + "; kernel restarted",
			},
		}, nil
	}
	return nil, restoreKind(err, "execute")
}

// Reset restarts the kernel and re-bootstraps it.
func (e *Subprocess) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if !e.started {
		return errors.New(errors.KindExecutorUnavailable, "executor is not started")
	}
	return e.restart(ctx)
}

// restart tears the kernel down and launches a fresh one. Caller holds e.mu.
func (e *Subprocess) restart(ctx context.Context) error {
	if e.pm != nil {
		_ = e.pm.Stop(e.cfg.KillGrace)
	}
	e.pm, e.conn = nil, nil
	return e.launch(ctx)
}

func (e *Subprocess) Capabilities() []string {
	return []string{CapTimeout, CapProcessIsolation, CapReset, CapDepsInstall}
}

func (e *Subprocess) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.pm != nil {
		return e.pm.Stop(e.cfg.KillGrace)
	}
	return nil
}

// restoreKind rebuilds a kind-tagged error from a kernel RPC error, whose
// Data field carries the kind name across the wire.
func restoreKind(err error, op string) error {
	if rpcErr, ok := err.(*jsonrpc.RPCError); ok {
		if kind, ok := rpcErr.Data.(string); ok && kind != "" {
			return errors.New(errors.Kind(kind), "%s: %s", op, rpcErr.Message)
		}
		return errors.New(errors.KindExecutorUnavailable, "%s: %s", op, rpcErr.Message)
	}
	return errors.Wrap(errors.KindTransport, err, "%s", op)
}
