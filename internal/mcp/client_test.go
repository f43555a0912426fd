package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemode/internal/errors"
	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
)

// fakeServer speaks enough MCP over pipes to exercise the client.
func fakeServer(t *testing.T) (io.Reader, io.Writer) {
	t.Helper()
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	handler := func(ctx context.Context, method string, params json.RawMessage) (any, *jsonrpc.RPCError) {
		switch method {
		case "initialize":
			return map[string]any{
				"protocolVersion": ProtocolVersion,
				"serverInfo":      map[string]any{"name": "fake", "version": "1.0"},
				"capabilities":    map[string]any{},
			}, nil
		case "notifications/initialized":
			return nil, nil
		case "tools/list":
			return map[string]any{
				"tools": []map[string]any{
					{
						"name":        "fetch",
						"description": "fetch a url",
						"inputSchema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"url":   map[string]any{"type": "string"},
								"retry": map[string]any{"type": "boolean"},
							},
							"required": []any{"url"},
						},
					},
				},
			}, nil
		case "tools/call":
			var p struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			}
			if p.Name == "boom" {
				return map[string]any{
					"content": []map[string]any{{"type": "text", "text": "it broke"}},
					"isError": true,
				}, nil
			}
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": "ok:" + p.Name}},
			}, nil
		default:
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeMethodNotFound, Message: method}
		}
	}
	go func() {
		_ = jsonrpc.Serve(context.Background(), serverReader, serverWriter, logging.Nop(), handler)
	}()
	return clientReader, clientWriter
}

func TestClientHandshakeAndList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, w := fakeServer(t)
	client, err := NewClient(ctx, r, w, "fake")
	require.NoError(t, err)
	require.Equal(t, "fake", client.ServerInfo().Name)

	schemas, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	require.Equal(t, "fetch", schemas[0].Name)

	callable := toCallable(schemas[0])
	require.Len(t, callable.Parameters, 2)
	byName := map[string]bool{}
	for _, p := range callable.Parameters {
		byName[p.Name] = p.Required
	}
	require.True(t, byName["url"])
	require.False(t, byName["retry"])
}

func TestClientCallTool(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, w := fakeServer(t)
	client, err := NewClient(ctx, r, w, "fake")
	require.NoError(t, err)

	result, err := client.CallTool(ctx, "fetch", map[string]any{"url": "https://x"})
	require.NoError(t, err)
	require.Equal(t, "ok:fetch", result.Text())
}

func TestClientSurfacesServerSideToolError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, w := fakeServer(t)
	client, err := NewClient(ctx, r, w, "fake")
	require.NoError(t, err)

	_, err = client.CallTool(ctx, "boom", nil)
	require.True(t, errors.HasKind(err, errors.KindToolExecution), "got %v", err)
	require.Contains(t, err.Error(), "it broke")
}
