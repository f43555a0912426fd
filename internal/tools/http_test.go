package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

func httpAdapter(t *testing.T, baseURL string) *HTTPAdapter {
	t.Helper()
	yaml := fmt.Sprintf(`
name: api
type: http
base_url: %s
endpoints:
  - name: repo
    method: GET
    path: /repos/{owner}/{repo}
  - name: search
    method: GET
    path: /search
`, baseURL)
	def, err := ParseDefinition([]byte(yaml))
	require.NoError(t, err)
	return NewHTTPAdapter([]*Definition{def}, logging.Nop())
}

func TestHTTPAdapterPathParamsAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/a/b", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"stargazers_count": 7}`)
	}))
	defer srv.Close()

	adapter := httpAdapter(t, srv.URL)
	result, err := adapter.Call(context.Background(), "api", "repo", map[string]any{"owner": "a", "repo": "b"})
	require.NoError(t, err)
	body, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(7), body["stargazers_count"])
}

func TestHTTPAdapterQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "go", r.URL.Query().Get("q"))
		fmt.Fprint(w, "plain text")
	}))
	defer srv.Close()

	adapter := httpAdapter(t, srv.URL)
	result, err := adapter.Call(context.Background(), "api", "search", map[string]any{
		"query_params": map[string]any{"q": "go"},
	})
	require.NoError(t, err)
	require.Equal(t, "plain text", result)
}

func TestHTTPAdapterMissingPathParam(t *testing.T) {
	adapter := httpAdapter(t, "http://unused")
	_, err := adapter.Call(context.Background(), "api", "repo", map[string]any{"owner": "a"})
	require.True(t, errors.HasKind(err, errors.KindMissingArgument), "got %v", err)
}

func TestHTTPAdapterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := httpAdapter(t, srv.URL)
	_, err := adapter.Call(context.Background(), "api", "search", nil)
	require.True(t, errors.HasKind(err, errors.KindToolExecution), "got %v", err)
}
