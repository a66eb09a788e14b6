package providers

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// normalizeResponse cleans up provider quirks so callers always see a
// uniform {content, tool_calls} pair:
//
//   - tool calls with nil argument maps get empty maps
//   - when the model emitted no structured tool calls but the content body
//     embeds a JSON tool invocation, one best-effort extraction runs
func normalizeResponse(resp *ChatResponse, tools []ToolDefinition) {
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Arguments == nil {
			resp.ToolCalls[i].Arguments = make(map[string]any)
		}
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = "call_" + uuid.NewString()[:8]
		}
	}

	if len(resp.ToolCalls) > 0 || len(tools) == 0 {
		return
	}

	if tc, rest, ok := extractEmbeddedToolCall(resp.Content, tools); ok {
		resp.ToolCalls = []ToolCall{tc}
		resp.Content = rest
		resp.FinishReason = "tool_calls"
	}
}

// extractEmbeddedToolCall scans content for the first balanced JSON object
// that names a known tool, e.g. {"name": "shell", "arguments": {...}} or
// {"tool": "shell", "input": {...}}. Returns the call, the content with the
// object removed, and whether extraction succeeded.
func extractEmbeddedToolCall(content string, tools []ToolDefinition) (ToolCall, string, bool) {
	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Function.Name] = true
	}

	for start := strings.IndexByte(content, '{'); start >= 0 && start < len(content); {
		obj, end := balancedObject(content[start:])
		if obj == "" {
			next := strings.IndexByte(content[start+1:], '{')
			if next < 0 {
				break
			}
			start += 1 + next
			continue
		}

		var parsed struct {
			Name      string         `json:"name"`
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
			Input     map[string]any `json:"input"`
		}
		if json.Unmarshal([]byte(obj), &parsed) == nil {
			name := parsed.Name
			if name == "" {
				name = parsed.Tool
			}
			if known[name] {
				args := parsed.Arguments
				if args == nil {
					args = parsed.Input
				}
				if args == nil {
					args = make(map[string]any)
				}
				rest := strings.TrimSpace(content[:start] + content[start+end:])
				return ToolCall{
					ID:        "call_" + uuid.NewString()[:8],
					Name:      name,
					Arguments: args,
				}, rest, true
			}
		}

		next := strings.IndexByte(content[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}

	return ToolCall{}, content, false
}

// balancedObject returns the first balanced {...} prefix of s and its end
// offset, honoring strings and escapes. Empty string when unbalanced.
func balancedObject(s string) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1], i + 1
				}
			}
		}
	}
	return "", 0
}
