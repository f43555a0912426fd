package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemode/internal/deps"
	"codemode/internal/execution"
	"codemode/internal/logging"
	"codemode/internal/namespace"
	"codemode/internal/store"
)

const testToken = "secret-token"

type nopInstaller struct{}

func (nopInstaller) Install(ctx context.Context, specs []string) (*deps.InstallResult, error) {
	return &deps.InstallResult{Installed: specs}, nil
}

func newTestServer(t *testing.T, policy deps.Policy) *Server {
	t.Helper()
	exec := execution.NewInProcess(namespace.Config{
		Access:    store.Access{Type: store.TypeFile, BasePath: t.TempDir()},
		Policy:    policy,
		Installer: nopInstaller{},
	}, 5*time.Second, logging.Nop())
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Close() })

	srv, err := New(Config{Token: testToken}, exec, exec.Namespaces(), logging.Nop())
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServerRefusesToStartWithoutToken(t *testing.T) {
	_, err := New(Config{}, nil, nil, logging.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth not configured")
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})

	w := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, "AuthRequired", body["error"].(map[string]any)["kind"])

	w = do(t, srv, http.MethodGet, "/health", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body = decode(t, w)
	require.Equal(t, "AuthInvalid", body["error"].(map[string]any)["kind"])

	w = do(t, srv, http.MethodGet, "/health", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode(t, w)["status"])
}

func TestExecuteRoundTripAndState(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})

	w := do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{"code": "x = 20\nx + 2"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Nil(t, body["error"])
	require.Equal(t, float64(22), body["value"])

	// Globals persist across requests.
	w = do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{"code": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(20), decode(t, w)["value"])

	w = do(t, srv, http.MethodPost, "/reset", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{"code": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.NotNil(t, body["error"])
}

func TestExecuteMalformedBodyIs422(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExecuteTimeoutReturns408(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})

	w := do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{
		"code":       "while True:\n    pass\n",
		"timeout_ms": 100,
	})
	require.Equal(t, http.StatusRequestTimeout, w.Code)
	body := decode(t, w)
	require.Equal(t, "Timeout", body["error"].(map[string]any)["kind"])
}

func TestSkillCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})
	create := map[string]any{
		"name":        "double",
		"source":      "def run(x):\n    return x * 2\n",
		"description": "double a number",
	}

	w := do(t, srv, http.MethodPost, "/skills", testToken, create)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodPost, "/skills", testToken, create)
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodGet, "/skills", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode(t, w)["skills"].([]any)
	require.Len(t, listed, 1)
	require.NotContains(t, listed[0].(map[string]any), "source")

	w = do(t, srv, http.MethodGet, "/skills/double", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, decode(t, w)["source"], "def run")

	// The created skill is callable from executed code.
	w = do(t, srv, http.MethodPost, "/execute", testToken, map[string]any{"code": "skills.double(x=4)"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(8), decode(t, w)["value"])

	w = do(t, srv, http.MethodDelete, "/skills/double", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["deleted"])

	w = do(t, srv, http.MethodDelete, "/skills/double", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decode(t, w)["deleted"])

	w = do(t, srv, http.MethodGet, "/skills/double", testToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifactCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})

	w := do(t, srv, http.MethodPost, "/artifacts", testToken, map[string]any{
		"name": "report", "data": "contents", "description": "a report",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodGet, "/artifacts/report", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "contents", decode(t, w)["data"])

	w = do(t, srv, http.MethodGet, "/artifacts", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w)["artifacts"].([]any), 1)

	w = do(t, srv, http.MethodDelete, "/artifacts/report", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["deleted"])
}

func TestDepsPolicyGateOverHTTP(t *testing.T) {
	srv := newTestServer(t, deps.Policy{AllowRuntimeInstalls: false})

	w := do(t, srv, http.MethodPost, "/deps", testToken, map[string]any{"spec": "pkg-b"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "RuntimeDepsDisabled", decode(t, w)["error"].(map[string]any)["kind"])

	w = do(t, srv, http.MethodGet, "/deps", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []any{}, decode(t, w)["deps"])

	w = do(t, srv, http.MethodPost, "/deps/sync", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDepsAddOverHTTP(t *testing.T) {
	srv := newTestServer(t, deps.Policy{AllowRuntimeInstalls: true})

	w := do(t, srv, http.MethodPost, "/deps", testToken, map[string]any{"spec": "pkg-a==1.0"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "installed", decode(t, w)["status"])

	w = do(t, srv, http.MethodGet, "/deps", testToken, nil)
	require.Equal(t, []any{"pkg-a==1.0"}, decode(t, w)["deps"])

	w = do(t, srv, http.MethodDelete, "/deps/pkg-a", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["removed"])
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t, deps.Policy{})
	w := do(t, srv, http.MethodGet, "/info", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "file", body["storage"])
	require.Contains(t, body["capabilities"], "reset")
}
