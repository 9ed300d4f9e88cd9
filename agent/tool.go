package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/braidwork/braid/metrics"
)

// Tool is a capability an agent can invoke by name. Run must be safe for
// concurrent use.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, input ExecutionInput) (ExecutionResult, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	name        string
	description string
	fn          func(ctx context.Context, input ExecutionInput) (ExecutionResult, error)
}

// NewToolFunc builds a Tool from a function.
func NewToolFunc(name, description string, fn func(ctx context.Context, input ExecutionInput) (ExecutionResult, error)) *ToolFunc {
	return &ToolFunc{name: name, description: description, fn: fn}
}

func (t *ToolFunc) Name() string        { return t.name }
func (t *ToolFunc) Description() string { return t.description }

func (t *ToolFunc) Run(ctx context.Context, input ExecutionInput) (ExecutionResult, error) {
	return t.fn(ctx, input)
}

// Registry holds the tools available to agents. It is safe for concurrent
// use and may be shared by many agents.
type Registry struct {
	logger *slog.Logger
	sink   metrics.Sink

	mu    sync.RWMutex
	tools map[string]Tool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithRegistryMetrics attaches a metrics sink to tool executions.
func WithRegistryMetrics(sink metrics.Sink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

// NewRegistry returns an empty tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register adds a tool. Blank names and duplicates are rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return &ArgumentError{Field: "tool", Message: "must not be nil"}
	}
	name := t.Name()
	if name == "" {
		return &ArgumentError{Field: "tool name", Message: "must not be blank"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.tools[name] = t
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Lookup returns the named tool and whether it exists.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool, recording duration and outcome metrics.
// Failures inside the tool come back wrapped in a ToolError.
func (r *Registry) Execute(ctx context.Context, name string, input ExecutionInput) (ExecutionResult, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	res, err := t.Run(ctx, input)
	success := err == nil && res.Success

	tags := map[string]string{"tool": name, "success": strconv.FormatBool(success)}
	metrics.Timer(r.sink, "tool.execution.duration", start, tags)
	metrics.Count(r.sink, "tool.execution.count", tags)
	if err != nil {
		metrics.Count(r.sink, "tool.execution.errors", map[string]string{"tool": name})
		metrics.Error(r.sink, "tool", "execution", err.Error())
		return res, &ToolError{Tool: name, Err: err}
	}
	return res, nil
}
