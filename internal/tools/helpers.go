// Package tools implements the MCP tool handlers over the four stateful
// services: findings, patterns, sessions and queues.
//
// Each tool is a struct holding the service it drives, with Definition()
// returning the mcp.Tool schema and Handle() processing a call. Handlers
// never return a Go error for bad input or a failed operation; they report
// it as an error result prefixed with the error kind so the agent can react.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
)

// withAny declares a parameter that accepts any JSON value.
func withAny(name, description string) mcp.ToolOption {
	return func(t *mcp.Tool) {
		t.InputSchema.Properties[name] = map[string]any{"description": description}
	}
}

// intArg reads an integer argument. JSON numbers arrive as float64 and
// some clients send numbers as strings; both are accepted.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) (int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, apperr.Validation("tools", "'%s' must be an integer", key)
	}
	return i, nil
}

// floatArg reads a numeric argument.
func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) (float64, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, apperr.Validation("tools", "'%s' must be a number", key)
	}
	return f, nil
}

// optFloatArg reads a numeric argument, reporting nil when it is absent.
func optFloatArg(req mcp.CallToolRequest, key string) (*float64, error) {
	if v, ok := req.GetArguments()[key]; !ok || v == nil {
		return nil, nil
	}
	f, err := floatArg(req, key, 0)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// boolArg reads a boolean argument ("true", 1 and true all count).
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) (bool, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, apperr.Validation("tools", "'%s' must be a boolean", key)
	}
	return b, nil
}

// mapArg reads an object argument. A JSON-encoded string is decoded.
func mapArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, apperr.Validation("tools", "'%s' must be an object", key)
	}
	return m, nil
}

// stringsArg reads a list argument given as an array or a comma-separated
// string. Blank entries are dropped.
func stringsArg(req mcp.CallToolRequest, key string) ([]string, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	var raw []string
	if s, isStr := v.(string); isStr {
		raw = strings.Split(s, ",")
	} else {
		var err error
		raw, err = cast.ToStringSliceE(v)
		if err != nil {
			return nil, apperr.Validation("tools", "'%s' must be a list of strings", key)
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// requireString reads a non-blank string argument.
func requireString(req mcp.CallToolRequest, key string) (string, error) {
	s := strings.TrimSpace(req.GetString(key, ""))
	if s == "" {
		return "", apperr.Validation("tools", "'%s' is required", key)
	}
	return s, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tools: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports err to the agent, prefixed with its kind.
func errorResult(err error) (*mcp.CallToolResult, error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = "error"
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err)), nil
}
