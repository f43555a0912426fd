package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "skill %q", "fetch_json")
	if KindOf(err) != KindNotFound {
		t.Fatalf("got kind %q", KindOf(err))
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error should have empty kind")
	}
	if KindOf(stderrors.New("plain")) != KindRuntime {
		t.Fatalf("untagged error should classify as RuntimeError")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindRuntimeDepsDisabled, "runtime installs are disabled")
	outer := fmt.Errorf("adding dep: %w", inner)
	if !HasKind(outer, KindRuntimeDepsDisabled) {
		t.Fatalf("kind lost through %%w wrapping")
	}
	if KindOf(outer) != KindRuntimeDepsDisabled {
		t.Fatalf("got kind %q", KindOf(outer))
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(KindTransport, cause, "kernel channel")
	if !stderrors.Is(err, cause) {
		t.Fatalf("wrapped cause not reachable via errors.Is")
	}
}

func TestIsInfrastructure(t *testing.T) {
	if !IsInfrastructure(New(KindExecutorClosed, "closed")) {
		t.Fatalf("ExecutorClosed is infrastructure")
	}
	if IsInfrastructure(New(KindTimeout, "deadline")) {
		t.Fatalf("Timeout is a contained user-code fault")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindAuthRequired:        http.StatusUnauthorized,
		KindNotFound:            http.StatusNotFound,
		KindDuplicateSkill:      http.StatusConflict,
		KindInvalidRequest:      http.StatusBadRequest,
		KindRuntimeDepsDisabled: http.StatusForbidden,
		KindExecutorClosed:      http.StatusServiceUnavailable,
		KindRuntime:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
