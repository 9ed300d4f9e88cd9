package agent

import (
	"encoding/json"
	"strings"
)

// ToolCall is the JSON protocol a model uses to invoke a tool.
type ToolCall struct {
	Tool      string
	Arguments string
}

// ParseToolCall reports whether raw is a standalone tool invocation: the
// entire trimmed response must parse as one JSON object whose "tool" and
// "arguments" fields are both non-empty strings. Anything else (prose,
// prose around JSON, a JSON array, null or non-string fields, trailing
// content after the object) is treated as plain text.
func ParseToolCall(raw string) (ToolCall, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return ToolCall{}, false
	}

	var probe struct {
		Tool      *string `json:"tool"`
		Arguments *string `json:"arguments"`
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&probe); err != nil {
		return ToolCall{}, false
	}
	// Any trailing token after the object disqualifies it.
	if dec.More() {
		return ToolCall{}, false
	}
	if probe.Tool == nil || probe.Arguments == nil {
		return ToolCall{}, false
	}
	if *probe.Tool == "" || *probe.Arguments == "" {
		return ToolCall{}, false
	}
	return ToolCall{Tool: *probe.Tool, Arguments: *probe.Arguments}, true
}
