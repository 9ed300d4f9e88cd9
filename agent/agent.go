package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/braidwork/braid/llm"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/store"
)

// DefaultMemoryLimit is how many recent memory entries an agent folds into
// its prompt when no explicit limit is configured.
const DefaultMemoryLimit = 10

// Previews keep memory entries short: tool arguments and model outputs are
// truncated before being remembered.
const (
	toolArgPreview = 120
	outputPreview  = 300
)

// toolProtocolLine tells the model how to invoke tools. The response
// parser in ParseToolCall is the strict counterpart of this instruction.
const toolProtocolLine = `You can call tools using JSON format: {"tool": "tool_name", "arguments": "arguments here"}. Only use tools when helpful. Otherwise just answer directly.`

// Agent is an LLM-backed executor with an append-only memory log and an
// optional tool registry. All fields are fixed at construction; only the
// memory log mutates, under its own lock, so Execute is safe to call
// concurrently.
type Agent struct {
	name        string
	description string
	client      llm.Client
	template    string
	tools       *Registry
	store       store.Store
	memoryLimit int
	logger      *slog.Logger
	sink        metrics.Sink

	mu     sync.RWMutex
	memory []string
}

// Option configures an Agent.
type Option func(*Agent)

// WithPromptTemplate appends a template section to every prompt.
func WithPromptTemplate(template string) Option {
	return func(a *Agent) { a.template = template }
}

// WithTools lets the agent invoke tools from the registry.
func WithTools(tools *Registry) Option {
	return func(a *Agent) { a.tools = tools }
}

// WithStore persists the memory log and rehydrates it on construction.
func WithStore(st store.Store) Option {
	return func(a *Agent) { a.store = st }
}

// WithMemoryLimit bounds how many recent entries the prompt includes.
// Zero disables the memory section entirely.
func WithMemoryLimit(n int) Option {
	return func(a *Agent) { a.memoryLimit = n }
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(a *Agent) { a.sink = sink }
}

// New builds an agent. When a store is configured, any previously persisted
// memory for the same name is loaded back; a failed load is logged and the
// agent starts with empty memory.
func New(ctx context.Context, name, description string, client llm.Client, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ArgumentError{Field: "name", Message: "must not be blank"}
	}
	if strings.TrimSpace(description) == "" {
		return nil, &ArgumentError{Field: "description", Message: "must not be blank"}
	}
	if client == nil {
		return nil, &ArgumentError{Field: "client", Message: "must not be nil"}
	}

	a := &Agent{
		name:        name,
		description: description,
		client:      client,
		memoryLimit: DefaultMemoryLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.memoryLimit < 0 {
		return nil, &ArgumentError{Field: "memory limit", Message: fmt.Sprintf("must not be negative, got %d", a.memoryLimit)}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	if a.store != nil {
		entries, err := a.store.LoadMemory(ctx, a.name)
		if err != nil {
			a.logger.Warn("memory rehydration failed, starting empty",
				"agent", a.name, "error", err)
		} else {
			a.memory = entries
		}
	}
	return a, nil
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's system description.
func (a *Agent) Description() string { return a.description }

// Memory returns a copy of the agent's memory log, oldest first.
func (a *Agent) Memory() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.memory))
	copy(out, a.memory)
	return out
}

// Execute runs one request through the model. If the registry is bound and
// the response is a standalone tool-call object, the tool runs and its
// result becomes the agent's result; a call to an unknown tool yields a
// failed result without an error. Any other response is returned as plain
// text. Each execution appends exactly one memory entry unless generation
// itself failed.
func (a *Agent) Execute(ctx context.Context, input ExecutionInput) (ExecutionResult, error) {
	if strings.TrimSpace(input.Content) == "" {
		return ExecutionResult{}, &ArgumentError{Field: "content", Message: "must not be blank"}
	}

	start := time.Now()
	res, err := a.execute(ctx, input)

	metrics.Timer(a.sink, "agent.execution.duration", start,
		map[string]string{"agent": a.name, "type": "unified"})
	metrics.Count(a.sink, "agent.execution.count",
		map[string]string{"agent": a.name, "success": strconv.FormatBool(err == nil && res.Success)})
	if err != nil {
		metrics.Count(a.sink, "agent.execution.errors", map[string]string{"agent": a.name})
		metrics.Error(a.sink, "agent", "execution", err.Error())
	}
	return res, err
}

func (a *Agent) execute(ctx context.Context, input ExecutionInput) (ExecutionResult, error) {
	prompt := a.buildPrompt(input.Content)

	raw, err := a.client.Generate(ctx, prompt)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("agent %s: generate: %w", a.name, err)
	}

	if a.tools != nil && a.tools.Len() > 0 {
		if call, ok := ParseToolCall(raw); ok {
			return a.runTool(ctx, call, input)
		}
	}

	a.remember(ctx, "LLM_OUTPUT: "+truncate(raw, outputPreview))
	return ExecutionResult{Success: true, Output: raw}, nil
}

func (a *Agent) runTool(ctx context.Context, call ToolCall, input ExecutionInput) (ExecutionResult, error) {
	// The call is remembered before it runs, so the log shows what was
	// attempted even when the tool fails.
	a.remember(ctx, "TOOL_CALL "+call.Tool+" arg="+truncate(call.Arguments, toolArgPreview))

	if _, ok := a.tools.Lookup(call.Tool); !ok {
		a.logger.Warn("model invoked unknown tool", "agent", a.name, "tool", call.Tool)
		return ExecutionResult{Success: false, Output: "[ERROR: unknown tool " + call.Tool + "]"}, nil
	}

	res, err := a.tools.Execute(ctx, call.Tool, ExecutionInput{Content: call.Arguments, Params: input.Params})
	if err != nil {
		return ExecutionResult{Success: false, Output: res.Output}, fmt.Errorf("agent %s: %w", a.name, err)
	}
	return res, nil
}

// remember appends an entry to the in-memory log and write-through to the
// store when one is bound. Persist failures are logged, never fatal.
func (a *Agent) remember(ctx context.Context, entry string) {
	if a.store != nil {
		if err := a.store.AddMemory(ctx, a.name, entry); err != nil {
			a.logger.Warn("memory persist failed", "agent", a.name, "error", err)
			metrics.Error(a.sink, "agent", "memory_persist", err.Error())
		}
	}
	a.mu.Lock()
	a.memory = append(a.memory, entry)
	a.mu.Unlock()
}

// buildPrompt assembles the unified prompt: system description, recent
// memory (newest first), the tool protocol when tools are bound, the user
// input, the optional template, and the closing instruction.
func (a *Agent) buildPrompt(content string) string {
	sections := make([]string, 0, 6)
	sections = append(sections, "System: "+a.description)

	if recent := a.recentMemory(); len(recent) > 0 {
		var sb strings.Builder
		sb.WriteString("Memory (most recent first):")
		for _, entry := range recent {
			sb.WriteString("\n- ")
			sb.WriteString(entry)
		}
		sections = append(sections, sb.String())
	}

	if a.tools != nil && a.tools.Len() > 0 {
		sections = append(sections,
			"Available tools: "+strings.Join(a.tools.Names(), ", ")+"\n"+toolProtocolLine)
	}

	sections = append(sections, "User Input:\n"+content)
	if a.template != "" {
		sections = append(sections, "Prompt Template:\n"+a.template)
	}
	sections = append(sections, "Produce the best output now.")

	return strings.Join(sections, "\n\n")
}

// recentMemory returns up to memoryLimit entries, newest first.
func (a *Agent) recentMemory() []string {
	if a.memoryLimit == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.memory)
	if n == 0 {
		return nil
	}
	limit := a.memoryLimit
	if limit > n {
		limit = n
	}
	out := make([]string, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, a.memory[i])
	}
	return out
}

// truncate clips s to limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
