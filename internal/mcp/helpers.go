package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// parseJSON parses a JSON string into the target type.
func parseJSON(data string, target any) error {
	return json.Unmarshal([]byte(data), target)
}

// marshalJSON serializes a value to JSON bytes.
func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// requiredString returns a non-empty string argument.
func requiredString(req mcp.CallToolRequest, key string) (string, error) {
	v := req.GetString(key, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// decodeArg re-decodes an object argument into target. A missing argument
// leaves target untouched.
func decodeArg(req mcp.CallToolRequest, key string, target any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	data, err := marshalJSON(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := parseJSON(string(data), target); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
