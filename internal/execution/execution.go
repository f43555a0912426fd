// Package execution defines the executor contract and its three
// implementations: an in-process Starlark interpreter, a subprocess kernel
// speaking JSON-RPC over stdio, and a containerized session server reached
// over HTTP. All three expose the same namespaces through the same
// bootstrap, so agent code is portable across isolation levels.
package execution

import (
	"context"
	stderrors "errors"
	"time"

	"go.starlark.net/starlark"

	"codemode/internal/errors"
)

// Capability names advertised by executors.
const (
	CapTimeout            = "timeout"
	CapProcessIsolation   = "process_isolation"
	CapContainerIsolation = "container_isolation"
	CapNetworkIsolation   = "network_isolation"
	CapReset              = "reset"
	CapDepsInstall        = "deps_install"
)

// WireError is the serialized user-code failure inside a Result.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Result is the outcome of one execute call. Exactly one of success
// (Error == nil) or failure (Error != nil) holds.
type Result struct {
	Value      any        `json:"value"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	DurationMS int64      `json:"duration_ms"`
	Error      *WireError `json:"error"`
}

// Executor runs agent code against a long-lived namespace. Execute contains
// user-code failures in the Result; it returns a Go error only for
// infrastructure faults (ExecutorUnavailable, ExecutorClosed, Transport).
// timeout <= 0 means the executor default. Close is idempotent; every
// method after Close fails with ExecutorClosed.
type Executor interface {
	Start(ctx context.Context) error
	Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error)
	Reset(ctx context.Context) error
	Capabilities() []string
	Close() error
}

// HasCapability reports whether caps contains name.
func HasCapability(caps []string, name string) bool {
	for _, c := range caps {
		if c == name {
			return true
		}
	}
	return false
}

// wireError projects an interpreter failure into the Result error form.
// Kind-tagged errors raised by namespace builtins keep their kinds; bare
// interpreter failures become RuntimeError with the Starlark backtrace.
func wireError(err error) *WireError {
	if kind := errors.KindOf(err); kind != errors.KindRuntime {
		we := &WireError{Kind: string(kind), Message: err.Error()}
		var tagged *errors.Error
		if stderrors.As(err, &tagged) {
			we.Message = tagged.Message
			we.Trace = tagged.Trace
		}
		if evalErr, ok := err.(*starlark.EvalError); ok && we.Trace == "" {
			we.Trace = evalErr.Backtrace()
		}
		return we
	}
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return &WireError{Kind: string(errors.KindRuntime), Message: evalErr.Msg, Trace: evalErr.Backtrace()}
	}
	return &WireError{Kind: string(errors.KindRuntime), Message: err.Error()}
}
