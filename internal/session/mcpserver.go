package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"codemode/internal/execution"
	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
	"codemode/internal/mcp"
)

// MCPServer exposes a session as an MCP tool server over newline-delimited
// JSON-RPC, typically on stdio. The tool surface mirrors the facade: code
// execution plus the discovery calls an agent needs before writing code.
type MCPServer struct {
	sess   *Session
	logger logging.Logger
}

// NewMCPServer wraps an open session. The server does not own the session;
// the caller closes it.
func NewMCPServer(sess *Session, logger logging.Logger) *MCPServer {
	return &MCPServer{sess: sess, logger: logging.OrNop(logger)}
}

// Serve handles requests from r until EOF or ctx cancellation.
func (m *MCPServer) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return jsonrpc.Serve(ctx, r, w, m.logger, m.handle)
}

func (m *MCPServer) handle(ctx context.Context, method string, params json.RawMessage) (any, *jsonrpc.RPCError) {
	switch method {
	case "initialize":
		return map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"serverInfo":      mcp.ServerInfo{Name: "codemode", Version: "0.1.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}, nil
	case "notifications/initialized", "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": mcpToolSchemas()}, nil
	case "tools/call":
		var call struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return m.callTool(ctx, call.Name, call.Arguments)
	}
	return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeMethodNotFound, Message: method}
}

func (m *MCPServer) callTool(ctx context.Context, name string, arguments json.RawMessage) (any, *jsonrpc.RPCError) {
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	switch name {
	case "run_code":
		var args struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		result, err := m.sess.Run(ctx, args.Code, 0)
		if err != nil {
			return errorResult(err), nil
		}
		return runResult(result), nil
	case "reset":
		if err := m.sess.Reset(ctx); err != nil {
			return errorResult(err), nil
		}
		return textResult("reset"), nil
	case "list_tools":
		tools, err := m.sess.ListTools(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(tools)
	case "search_tools":
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if args.Limit <= 0 {
			args.Limit = 10
		}
		tools, err := m.sess.SearchTools(ctx, args.Query, args.Limit)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(tools)
	case "list_skills":
		entries, err := m.sess.ListSkills(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(entries)
	case "search_skills":
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if args.Limit <= 0 {
			args.Limit = 5
		}
		hits, err := m.sess.SearchSkills(ctx, args.Query, args.Limit)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(hits)
	case "add_skill":
		var args struct {
			Name        string `json:"name"`
			Source      string `json:"source"`
			Description string `json:"description"`
			Overwrite   bool   `json:"overwrite"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		info, err := m.sess.AddSkill(ctx, args.Name, args.Source, args.Description, args.Overwrite)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(info)
	case "remove_skill":
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		removed, err := m.sess.RemoveSkill(ctx, args.Name)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]bool{"removed": removed})
	}
	return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: fmt.Sprintf("unknown tool %q", name)}
}

// runResult renders an execution outcome as tool content. A user-code
// failure becomes an isError result with any stdout appended, so the agent
// sees what printed before the fault.
func runResult(result *execution.Result) *mcp.ToolCallResult {
	if result.Error != nil {
		text := fmt.Sprintf("Error: %s: %s", result.Error.Kind, result.Error.Message)
		if result.Stdout != "" {
			text += "\n\nStdout:\n" + result.Stdout
		}
		out := textResult(text)
		out.IsError = true
		return out
	}

	var output string
	if result.Value != nil {
		output = fmt.Sprint(result.Value)
	}
	if result.Stdout != "" {
		if output != "" {
			output += "\n\nStdout:\n" + result.Stdout
		} else {
			output = "Stdout:\n" + result.Stdout
		}
	}
	if output == "" {
		output = "(no output)"
	}
	return textResult(output)
}

func textResult(text string) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(err error) *mcp.ToolCallResult {
	out := textResult("Error: " + err.Error())
	out.IsError = true
	return out
}

func jsonResult(v any) (any, *jsonrpc.RPCError) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInternalError, Message: err.Error()}
	}
	return textResult(string(data)), nil
}

const runCodeDescription = `Execute code with access to tools, skills, and artifacts.

WORKFLOW:
1. First, use search_skills to find existing solutions for your task
2. If a skill exists, invoke it: skills.invoke("skill_name", arg=value)
3. If no skill exists, solve the task ad-hoc using tools and code
4. Once solved, save reusable solutions as skills for future use

NAMESPACES:
- tools.* - Call registered tools (use list_tools to see available)
- skills.* - Invoke, search, create, list and inspect stored skills
- artifacts.* - Persist data across sessions (save, load, list, delete)
- deps.* - Declare runtime dependencies where the policy allows it

The namespace persists across calls - variables survive between run_code invocations.`

func mcpToolSchemas() []mcp.ToolSchema {
	object := func(properties map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	queryProps := func(defaultLimit int) map[string]any {
		return map[string]any{
			"query": map[string]any{"type": "string", "description": "Natural language description of what you're trying to accomplish"},
			"limit": map[string]any{"type": "integer", "description": fmt.Sprintf("Maximum number of results (default: %d)", defaultLimit)},
		}
	}

	return []mcp.ToolSchema{
		{
			Name:        "run_code",
			Description: runCodeDescription,
			InputSchema: object(map[string]any{
				"code": map[string]any{"type": "string", "description": "Code to execute"},
			}, "code"),
		},
		{
			Name:        "reset",
			Description: "Clear interpreter state while keeping tools, skills and artifacts.",
			InputSchema: object(map[string]any{}),
		},
		{
			Name:        "list_tools",
			Description: "List all available tools with their descriptions and parameters.",
			InputSchema: object(map[string]any{}),
		},
		{
			Name:        "search_tools",
			Description: "Search tools by intent using semantic search.",
			InputSchema: object(queryProps(10), "query"),
		},
		{
			Name:        "list_skills",
			Description: "List all available skills with their descriptions.",
			InputSchema: object(map[string]any{}),
		},
		{
			Name:        "search_skills",
			Description: "Search for existing skills before solving a task from scratch.",
			InputSchema: object(queryProps(5), "query"),
		},
		{
			Name:        "add_skill",
			Description: "Save a reusable skill. The source must define a run function.",
			InputSchema: object(map[string]any{
				"name":        map[string]any{"type": "string", "description": "Skill name (a valid identifier)"},
				"source":      map[string]any{"type": "string", "description": "Skill source defining run(...)"},
				"description": map[string]any{"type": "string", "description": "What the skill does"},
				"overwrite":   map[string]any{"type": "boolean", "description": "Replace an existing skill of the same name"},
			}, "name", "source"),
		},
		{
			Name:        "remove_skill",
			Description: "Delete a stored skill by name.",
			InputSchema: object(map[string]any{
				"name": map[string]any{"type": "string", "description": "Skill name"},
			}, "name"),
		},
	}
}
