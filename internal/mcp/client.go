package mcp

import (
	"context"
	"fmt"
	"io"
	"strings"

	"codemode/internal/errors"
	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
)

// ProtocolVersion is the MCP protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the peer's self-description.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ToolSchema is an MCP tool definition as reported by tools/list.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text concatenates the text blocks of the result.
func (r *ToolCallResult) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// Client speaks MCP over a JSON-RPC connection. It is transport-agnostic:
// the adapter wires it to a ProcessManager's stdio, tests wire it to pipes.
type Client struct {
	conn        *jsonrpc.Conn
	logger      logging.Logger
	serverInfo  ServerInfo
	initialized bool
}

// NewClient creates a client over the given stdio pair and performs the
// initialize handshake.
func NewClient(ctx context.Context, r io.Reader, w io.Writer, name string) (*Client, error) {
	logger := logging.NewComponentLogger(fmt.Sprintf("MCPClient[%s]", name))
	c := &Client{
		conn:   jsonrpc.NewConn(r, w, logger),
		logger: logger,
	}
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      ClientInfo{Name: "codemode", Version: "0.1.0"},
		"capabilities":    map[string]any{},
	}
	var result initializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "initialize handshake")
	}
	if result.ProtocolVersion != ProtocolVersion {
		c.logger.Warn("Protocol version mismatch: client=%s, server=%s", ProtocolVersion, result.ProtocolVersion)
	}
	c.serverInfo = result.ServerInfo
	c.initialized = true

	if err := c.conn.Notify("notifications/initialized", map[string]any{}); err != nil {
		c.logger.Warn("Failed to send initialized notification: %v", err)
	}
	c.logger.Info("Initialized with server: %s v%s", result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// ListTools retrieves the server's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	var result struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := c.conn.Call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("Retrieved %d tools from server", len(result.Tools))
	return result.Tools, nil
}

// CallTool executes one tool on the server. A server-side tool failure
// (isError content) is surfaced as ToolExecutionError.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	var result ToolCallResult
	if err := c.conn.Call(ctx, "tools/call", params, &result); err != nil {
		if rpcErr, ok := err.(*jsonrpc.RPCError); ok {
			return nil, errors.Wrap(errors.KindToolExecution, rpcErr, "tool %q", name)
		}
		return nil, err
	}
	if result.IsError {
		return nil, errors.New(errors.KindToolExecution, "tool %q failed: %s", name, result.Text())
	}
	return &result, nil
}

// ServerInfo returns the peer's self-description.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}
