// Package errors defines the error taxonomy shared across stores, tool
// adapters, executors and the session server. Every error that crosses a
// package boundary carries a Kind; the wire form and the log form use the
// same kind names.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the wire.
type Kind string

const (
	KindInvalidRequest Kind = "InvalidRequest"
	KindNotFound       Kind = "NotFound"
	KindDuplicateSkill Kind = "DuplicateSkill"
	KindDuplicateTool  Kind = "DuplicateTool"
	KindSchemaError    Kind = "SchemaError"

	KindArgumentType    Kind = "ArgumentTypeError"
	KindMissingArgument Kind = "MissingArgument"
	KindUnknownArgument Kind = "UnknownArgument"

	KindToolExecution Kind = "ToolExecutionError"
	KindToolTimeout   Kind = "ToolTimeout"
	KindSkillError    Kind = "SkillError"

	KindSyntax  Kind = "SyntaxError"
	KindRuntime Kind = "RuntimeError"
	KindTimeout Kind = "Timeout"

	KindInvalidDepSpec      Kind = "InvalidDepSpec"
	KindRuntimeDepsDisabled Kind = "RuntimeDepsDisabled"
	KindInstallFailed       Kind = "InstallFailed"

	KindAuthRequired Kind = "AuthRequired"
	KindAuthInvalid  Kind = "AuthInvalid"

	KindStorageUnavailable Kind = "StorageUnavailable"
	KindCorrupt            Kind = "Corrupt"

	KindExecutorUnavailable Kind = "ExecutorUnavailable"
	KindExecutorClosed      Kind = "ExecutorClosed"
	KindTransport           Kind = "TransportError"
)

// Error is a kind-tagged error. Trace is optional and only populated for
// user-code faults where a traceback exists.
type Error struct {
	Kind    Kind
	Message string
	Trace   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindRuntime when err carries none.
// A nil err returns the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntime
}

// HasKind reports whether err (or anything it wraps) carries kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsInfrastructure reports whether err must be raised to the caller of an
// executor operation rather than contained in an ExecutionResult.
func IsInfrastructure(err error) bool {
	switch KindOf(err) {
	case KindExecutorUnavailable, KindExecutorClosed, KindTransport, KindStorageUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps an error kind to the status the session server returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthRequired, KindAuthInvalid:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateSkill, KindDuplicateTool:
		return http.StatusConflict
	case KindInvalidRequest, KindInvalidDepSpec, KindArgumentType,
		KindMissingArgument, KindUnknownArgument, KindSchemaError:
		return http.StatusBadRequest
	case KindRuntimeDepsDisabled:
		return http.StatusForbidden
	case KindExecutorUnavailable, KindExecutorClosed, KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
