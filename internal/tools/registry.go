package tools

import (
	"context"
	"sort"
	"strings"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// Registry routes tool calls to the adapter owning each tool. Tool names
// are unique across adapters.
type Registry struct {
	adapters []Adapter
	byTool   map[string]Adapter
	tools    map[string]*Tool
	order    []string
	logger   logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		byTool: make(map[string]Adapter),
		tools:  make(map[string]*Tool),
		logger: logging.OrNop(logger),
	}
}

// Register adds an adapter and claims its tool names. A name collision with
// an already-registered tool fails the whole registration.
func (r *Registry) Register(ctx context.Context, adapter Adapter) error {
	tools, err := adapter.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		if _, exists := r.byTool[tool.Name]; exists {
			return errors.New(errors.KindDuplicateTool, "tool %q already registered", tool.Name)
		}
	}
	for _, tool := range tools {
		r.byTool[tool.Name] = adapter
		r.tools[tool.Name] = tool
		r.order = append(r.order, tool.Name)
	}
	r.adapters = append(r.adapters, adapter)
	r.logger.Debug("Registered adapter with %d tools", len(tools))
	return nil
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Get returns the descriptor for one tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Call routes a tool invocation to its adapter. recipe is empty for the
// escape hatch.
func (r *Registry) Call(ctx context.Context, tool, recipe string, args map[string]any) (any, error) {
	adapter, ok := r.byTool[tool]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "tool %q not found", tool)
	}
	return adapter.Call(ctx, tool, recipe, args)
}

// Search ranks tools by keyword match over name, description and tags.
// Ties break deterministically by name.
func (r *Registry) Search(query string, limit int) []*Tool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	terms := strings.Fields(query)

	type scored struct {
		tool  *Tool
		score int
	}
	var matches []scored
	for _, name := range r.order {
		tool := r.tools[name]
		score := 0
		haystacks := []struct {
			text   string
			weight int
		}{
			{strings.ToLower(tool.Name), 3},
			{strings.ToLower(tool.Description), 2},
			{strings.ToLower(strings.Join(tool.Tags, " ")), 1},
		}
		for _, term := range terms {
			for _, h := range haystacks {
				if strings.Contains(h.text, term) {
					score += h.weight
				}
			}
		}
		if score > 0 {
			matches = append(matches, scored{tool, score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].tool.Name < matches[j].tool.Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*Tool, len(matches))
	for i, m := range matches {
		out[i] = m.tool
	}
	return out
}

// Close closes every adapter, returning the first error.
func (r *Registry) Close() error {
	var firstErr error
	for _, adapter := range r.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
