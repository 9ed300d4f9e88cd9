package agent

import (
	"errors"
	"fmt"
)

// Registry sentinel errors.
var (
	// ErrToolExists reports a Register call for a name already taken.
	ErrToolExists = errors.New("tool already registered")
	// ErrToolNotFound reports an Execute call for an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
)

// ArgumentError reports an invalid public argument: a blank name, a nil
// client, a negative limit. It always fails synchronously, before any
// backend work starts.
type ArgumentError struct {
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ToolError wraps a failure inside a tool run with the tool's name.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
