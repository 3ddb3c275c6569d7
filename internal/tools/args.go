package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// argString returns a string argument, or "".
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// requireString returns a non-empty string argument.
func requireString(args map[string]any, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// argStrings returns a string array argument, skipping non-string items.
func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// argFloat returns a number argument, or nil when absent.
func argFloat(args map[string]any, key string) *float64 {
	v, ok := args[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

// argInt returns a number argument truncated to an int, or nil when absent.
func argInt(args map[string]any, key string) *int {
	f := argFloat(args, key)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// argBool returns a boolean argument, or nil when absent.
func argBool(args map[string]any, key string) *bool {
	v, ok := args[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// argDuration parses a Go duration argument such as "24h".
func argDuration(args map[string]any, key string) (time.Duration, error) {
	s := argString(args, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

// jsonResult renders v as the tool's text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// typed converts a string list into a list of a string-based enum.
func typed[T ~string](ss []string) []T {
	if len(ss) == 0 {
		return nil
	}
	out := make([]T, len(ss))
	for i, s := range ss {
		out[i] = T(s)
	}
	return out
}
