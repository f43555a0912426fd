package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"codemode/internal/logging"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest("7", "execute", map[string]any{"code": "1+1"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := UnmarshalRequest(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Method != "execute" || parsed.ID != "7" {
		t.Fatalf("unexpected request: %+v", parsed)
	}
	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(parsed.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.Code != "1+1" {
		t.Fatalf("params lost: %+v", params)
	}
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":"1.0","id":"1","result":2}`))
	if err == nil {
		t.Fatal("expected version error")
	}
}

func TestNotificationHasNoID(t *testing.T) {
	req, err := NewRequest(nil, "ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatal("nil ID should be a notification")
	}
}

// TestConnAgainstServe wires a client Conn to a Serve loop over in-memory
// pipes, the same topology as the kernel channel.
func TestConnAgainstServe(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	handler := func(ctx context.Context, method string, params json.RawMessage) (any, *RPCError) {
		switch method {
		case "echo":
			var p map[string]any
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
			}
			return p, nil
		default:
			return nil, &RPCError{Code: CodeMethodNotFound, Message: method}
		}
	}

	go func() {
		_ = Serve(context.Background(), serverReader, serverWriter, logging.Nop(), handler)
	}()

	conn := NewConn(clientReader, clientWriter, logging.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result map[string]any
	if err := conn.Call(ctx, "echo", map[string]any{"x": "y"}, &result); err != nil {
		t.Fatalf("echo call: %v", err)
	}
	if result["x"] != "y" {
		t.Fatalf("unexpected result: %v", result)
	}

	err := conn.Call(ctx, "no-such-method", nil, nil)
	rpcErr, ok := err.(*RPCError)
	if !ok || rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("expected MethodNotFound, got %v", err)
	}
}
