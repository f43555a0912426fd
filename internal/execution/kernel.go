package execution

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"codemode/internal/deps"
	"codemode/internal/errors"
	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
	"codemode/internal/namespace"
	"codemode/internal/store"
)

// Kernel protocol methods.
const (
	methodPing      = "ping"
	methodBootstrap = "bootstrap"
	methodExecute   = "execute"
	methodReset     = "reset"
)

// BootstrapParams is the first message a kernel receives: everything needed
// to reconstruct the namespaces in its own process.
type BootstrapParams struct {
	Access               store.Access `json:"access"`
	ToolsPath            string       `json:"tools_path,omitempty"`
	AllowRuntimeInstalls bool         `json:"allow_runtime_installs"`
	SyncDeps             bool         `json:"sync_deps"`
	DefaultTimeoutMS     int64        `json:"default_timeout_ms,omitempty"`
}

// ExecuteParams carries one code chunk.
type ExecuteParams struct {
	Code      string `json:"code"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type okReply struct {
	OK bool `json:"ok"`
}

// Kernel is the child-process side of the subprocess executor: a JSON-RPC
// loop over stdio that hosts an in-process executor. Requests are handled
// strictly in order, which is the channel's ordering guarantee.
type Kernel struct {
	logger logging.Logger

	mu   sync.Mutex
	exec *InProcess
}

// NewKernel creates an idle kernel.
func NewKernel(logger logging.Logger) *Kernel {
	return &Kernel{logger: logging.OrNop(logger)}
}

// Serve runs the request loop until r reaches EOF. The parent closing the
// kernel's stdin is the shutdown signal.
func (k *Kernel) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	err := jsonrpc.Serve(ctx, r, w, k.logger, k.handle)
	k.mu.Lock()
	exec := k.exec
	k.exec = nil
	k.mu.Unlock()
	if exec != nil {
		_ = exec.Close()
	}
	return err
}

func (k *Kernel) handle(ctx context.Context, method string, params json.RawMessage) (any, *jsonrpc.RPCError) {
	switch method {
	case methodPing:
		return okReply{OK: true}, nil

	case methodBootstrap:
		var p BootstrapParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return k.bootstrap(ctx, p)

	case methodExecute:
		var p ExecuteParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		exec := k.executor()
		if exec == nil {
			return nil, rpcError(errors.New(errors.KindExecutorUnavailable, "kernel is not bootstrapped"))
		}
		result, err := exec.Execute(ctx, p.Code, time.Duration(p.TimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, rpcError(err)
		}
		return result, nil

	case methodReset:
		exec := k.executor()
		if exec == nil {
			return nil, rpcError(errors.New(errors.KindExecutorUnavailable, "kernel is not bootstrapped"))
		}
		if err := exec.Reset(ctx); err != nil {
			return nil, rpcError(err)
		}
		return okReply{OK: true}, nil

	default:
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeMethodNotFound, Message: "unknown method " + method}
	}
}

func (k *Kernel) bootstrap(ctx context.Context, p BootstrapParams) (any, *jsonrpc.RPCError) {
	exec := NewInProcess(namespace.Config{
		Access:    p.Access,
		ToolsPath: p.ToolsPath,
		Policy:    deps.Policy{AllowRuntimeInstalls: p.AllowRuntimeInstalls},
		Logger:    k.logger,
	}, time.Duration(p.DefaultTimeoutMS)*time.Millisecond, k.logger)

	if err := exec.Start(ctx); err != nil {
		return nil, rpcError(err)
	}
	if p.SyncDeps {
		if _, err := exec.Namespaces().Deps.Sync(ctx); err != nil {
			_ = exec.Close()
			return nil, rpcError(err)
		}
	}

	k.mu.Lock()
	old := k.exec
	k.exec = exec
	k.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	k.logger.Info("Kernel bootstrapped (storage=%s)", p.Access.Type)
	return okReply{OK: true}, nil
}

func (k *Kernel) executor() *InProcess {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.exec
}

// rpcError carries the error kind in Data so the parent can restore it.
func rpcError(err error) *jsonrpc.RPCError {
	return &jsonrpc.RPCError{
		Code:    jsonrpc.CodeInternalError,
		Message: err.Error(),
		Data:    string(errors.KindOf(err)),
	}
}
