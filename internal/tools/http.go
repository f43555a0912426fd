package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// HTTPAdapter serves tools whose callables are REST endpoints. Path
// parameters are filled from keyword args ({owner} ← args["owner"]); the
// reserved "query_params" argument carries a mapping appended as the query
// string. JSON response bodies are decoded; anything else is returned as a
// string.
type HTTPAdapter struct {
	defs   map[string]*Definition
	order  []string
	client *http.Client
	logger logging.Logger
}

// NewHTTPAdapter wraps parsed HTTP tool definitions.
func NewHTTPAdapter(defs []*Definition, logger logging.Logger) *HTTPAdapter {
	a := &HTTPAdapter{
		defs:   make(map[string]*Definition, len(defs)),
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logging.OrNop(logger),
	}
	for _, def := range defs {
		if def.Type != "http" {
			continue
		}
		a.defs[def.Name] = def
		a.order = append(a.order, def.Name)
	}
	return a
}

func (a *HTTPAdapter) ListTools(ctx context.Context) ([]*Tool, error) {
	out := make([]*Tool, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.defs[name].Tool())
	}
	return out, nil
}

func (a *HTTPAdapter) Call(ctx context.Context, tool, recipe string, args map[string]any) (any, error) {
	def, ok := a.defs[tool]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "tool %q not found", tool)
	}
	if recipe == "" {
		return nil, errors.New(errors.KindInvalidRequest, "http tool %q requires an endpoint name", tool)
	}
	var binding *HTTPBinding
	for i := range def.Endpoints {
		if def.Endpoints[i].Name == recipe {
			binding = &def.Endpoints[i]
			break
		}
	}
	if binding == nil {
		return nil, errors.New(errors.KindNotFound, "tool %q has no endpoint %q", tool, recipe)
	}

	path, query, err := expandPath(binding.PathTemplate, args)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(def.BaseURL, "/") + path
	if query != "" {
		endpoint += "?" + query
	}

	method := strings.ToUpper(binding.Method)
	if method == "" {
		method = http.MethodGet
	}

	a.logger.Debug("HTTP tool %q: %s %s", tool, method, endpoint)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindToolExecution, err, "build request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindToolExecution, err, "tool %q endpoint %q", tool, recipe)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, errors.Wrap(errors.KindToolExecution, err, "read response")
	}
	if resp.StatusCode >= 400 {
		return nil, errors.New(errors.KindToolExecution,
			"tool %q endpoint %q returned %d: %s", tool, recipe, resp.StatusCode, tail(body))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed, nil
		}
	}
	return string(body), nil
}

func (a *HTTPAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// expandPath substitutes {name} placeholders from args and builds the query
// string from the reserved "query_params" mapping. Every non-reserved arg
// must be consumed by a placeholder.
func expandPath(template string, args map[string]any) (path, query string, err error) {
	used := map[string]bool{}
	path = template
	for name, value := range args {
		if name == "query_params" {
			continue
		}
		placeholder := "{" + name + "}"
		if !strings.Contains(path, placeholder) {
			return "", "", errors.New(errors.KindUnknownArgument, "no path parameter %q in %q", name, template)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprintf("%v", value)))
		used[name] = true
	}
	if start := strings.Index(path, "{"); start >= 0 {
		end := strings.Index(path[start:], "}")
		missing := path[start:]
		if end >= 0 {
			missing = path[start+1 : start+end]
		}
		return "", "", errors.New(errors.KindMissingArgument, "missing path parameter %q", missing)
	}

	if raw, ok := args["query_params"]; ok {
		params, ok := raw.(map[string]any)
		if !ok {
			return "", "", errors.New(errors.KindArgumentType, "query_params expects a mapping, got %T", raw)
		}
		values := url.Values{}
		for key, value := range params {
			values.Set(key, fmt.Sprintf("%v", value))
		}
		query = values.Encode()
	}
	return path, query, nil
}
