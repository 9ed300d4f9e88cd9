// Package agent provides LLM-backed agents with bounded conversational
// memory, a tool registry with a JSON call protocol, and an orchestrator
// that manages named and throwaway agents.
package agent

// ExecutionInput carries one request into an agent or tool. Params is
// opaque caller metadata; neither agents nor the built-in tools interpret
// it, they only pass it through.
type ExecutionInput struct {
	Content string
	Params  map[string]string
}

// ExecutionResult is the outcome of one agent or tool execution. Success
// false with a nil error means the execution itself worked but produced a
// failure outcome, e.g. the model called a tool that doesn't exist.
type ExecutionResult struct {
	Success  bool
	Output   string
	Metadata map[string]string
}
