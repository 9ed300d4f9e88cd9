package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/braidwork/braid/llm"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/store"
)

// OrchestratorConfig carries the defaults the orchestrator hands to every
// implicit agent it creates. Zero values are fine: a nil store means no
// persistence, a zero memory limit means DefaultMemoryLimit.
type OrchestratorConfig struct {
	Store       store.Store
	Tools       *Registry
	Metrics     metrics.Sink
	Logger      *slog.Logger
	MemoryLimit int
}

// Orchestrator owns a registry of named agents and mints throwaway agents
// for one-off work. Safe for concurrent use.
type Orchestrator struct {
	cfg OrchestratorConfig

	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewOrchestrator builds an orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	return &Orchestrator{
		cfg:    cfg,
		agents: make(map[string]*Agent),
	}
}

// RegisterAgent adds a long-lived agent under its own name. Duplicate
// names are rejected.
func (o *Orchestrator) RegisterAgent(a *Agent) error {
	if a == nil {
		return &ArgumentError{Field: "agent", Message: "must not be nil"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.agents[a.Name()]; dup {
		return &ArgumentError{Field: "name", Message: "agent " + a.Name() + " already registered"}
	}
	o.agents[a.Name()] = a
	o.cfg.Logger.Debug("agent registered", "agent", a.Name())
	return nil
}

// CallExplicit executes input on the named agent.
func (o *Orchestrator) CallExplicit(ctx context.Context, name string, input ExecutionInput) (ExecutionResult, error) {
	a, ok := o.Lookup(name)
	if !ok {
		return ExecutionResult{}, &ArgumentError{Field: "name", Message: "unknown agent " + name}
	}
	return a.Execute(ctx, input)
}

// CreateImplicitAgent builds a throwaway agent named "<nameHint>-<uuid>",
// carrying the orchestrator's store, tools, metrics, logger, and memory
// limit. The agent is not added to the named registry; the caller owns the
// only reference. The fresh name guarantees an empty memory log.
func (o *Orchestrator) CreateImplicitAgent(ctx context.Context, nameHint, description string, client llm.Client, promptTemplate string) (*Agent, error) {
	if strings.TrimSpace(nameHint) == "" {
		return nil, &ArgumentError{Field: "name hint", Message: "must not be blank"}
	}

	name := nameHint + "-" + uuid.New().String()
	opts := []Option{
		WithMemoryLimit(o.cfg.MemoryLimit),
		WithLogger(o.cfg.Logger),
		WithMetrics(o.cfg.Metrics),
	}
	if o.cfg.Store != nil {
		opts = append(opts, WithStore(o.cfg.Store))
	}
	if o.cfg.Tools != nil {
		opts = append(opts, WithTools(o.cfg.Tools))
	}
	if promptTemplate != "" {
		opts = append(opts, WithPromptTemplate(promptTemplate))
	}

	a, err := New(ctx, name, description, client, opts...)
	if err != nil {
		return nil, err
	}

	o.cfg.Logger.Debug("implicit agent created", "agent", name)
	return a, nil
}

// Lookup returns the named agent and whether it exists.
func (o *Orchestrator) Lookup(name string) (*Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[name]
	return a, ok
}

// AgentNames returns the registered agent names, sorted.
func (o *Orchestrator) AgentNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered agents.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.agents)
}
