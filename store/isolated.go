package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/braidwork/braid/plan"
)

// Isolated decorates a Store with a unique key namespace so concurrent runs
// sharing one backend cannot see each other's state. Close removes every key
// the decorator wrote unless PreserveOnClose is set. The underlying store is
// never closed; the caller still owns it.
type Isolated struct {
	base      Store
	namespace string
	preserve  bool
	logger    *slog.Logger

	mu        sync.Mutex
	workflows map[string]struct{}
	agents    map[string]struct{}
	closed    bool
}

// IsolatedOption configures an Isolated store.
type IsolatedOption func(*Isolated)

// PreserveOnClose keeps the namespace's keys in the backend after Close,
// e.g. so a run can be inspected or resumed later.
func PreserveOnClose() IsolatedOption {
	return func(s *Isolated) { s.preserve = true }
}

// WithLogger sets the logger used to report cleanup failures.
func WithLogger(logger *slog.Logger) IsolatedOption {
	return func(s *Isolated) { s.logger = logger }
}

// NewIsolated wraps base in a fresh namespace.
func NewIsolated(base Store, opts ...IsolatedOption) *Isolated {
	s := &Isolated{
		base:      base,
		namespace: "iso-" + uuid.New().String(),
		workflows: make(map[string]struct{}),
		agents:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// WorkflowID returns a workflow id unique to this namespace, for callers
// that want a throwaway run without inventing their own id.
func (s *Isolated) WorkflowID() string { return s.namespace }

// Namespace returns the key prefix applied to every operation.
func (s *Isolated) Namespace() string { return s.namespace }

func (s *Isolated) qualify(id string) string { return s.namespace + "." + id }

func (s *Isolated) trackWorkflow(id string) {
	s.mu.Lock()
	s.workflows[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Isolated) trackAgent(name string) {
	s.mu.Lock()
	s.agents[name] = struct{}{}
	s.mu.Unlock()
}

func (s *Isolated) AddMemory(ctx context.Context, agentName, entry string) error {
	s.trackAgent(agentName)
	return s.base.AddMemory(ctx, s.qualify(agentName), entry)
}

func (s *Isolated) LoadMemory(ctx context.Context, agentName string) ([]string, error) {
	return s.base.LoadMemory(ctx, s.qualify(agentName))
}

func (s *Isolated) RemoveMemory(ctx context.Context, agentName string) error {
	s.mu.Lock()
	delete(s.agents, agentName)
	s.mu.Unlock()
	return s.base.RemoveMemory(ctx, s.qualify(agentName))
}

func (s *Isolated) SavePlan(ctx context.Context, workflowID string, p plan.Plan) error {
	s.trackWorkflow(workflowID)
	return s.base.SavePlan(ctx, s.qualify(workflowID), p)
}

func (s *Isolated) LoadPlan(ctx context.Context, workflowID string) (plan.Plan, bool, error) {
	return s.base.LoadPlan(ctx, s.qualify(workflowID))
}

func (s *Isolated) SaveTaskOutput(ctx context.Context, workflowID, taskName, output string) error {
	s.trackWorkflow(workflowID)
	return s.base.SaveTaskOutput(ctx, s.qualify(workflowID), taskName, output)
}

func (s *Isolated) LoadTaskOutputs(ctx context.Context, workflowID string) (*TaskOutputs, error) {
	return s.base.LoadTaskOutputs(ctx, s.qualify(workflowID))
}

func (s *Isolated) RemoveWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	delete(s.workflows, workflowID)
	s.mu.Unlock()
	return s.base.RemoveWorkflow(ctx, s.qualify(workflowID))
}

// Close removes every workflow and memory log written through this
// decorator, unless PreserveOnClose was set. Close is idempotent.
func (s *Isolated) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workflows := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		workflows = append(workflows, id)
	}
	agents := make([]string, 0, len(s.agents))
	for name := range s.agents {
		agents = append(agents, name)
	}
	s.mu.Unlock()

	if s.preserve {
		return nil
	}

	ctx := context.Background()
	var errs []error
	for _, id := range workflows {
		if err := s.base.RemoveWorkflow(ctx, s.qualify(id)); err != nil {
			s.logger.Warn("isolated store cleanup failed",
				"workflow_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	for _, name := range agents {
		if err := s.base.RemoveMemory(ctx, s.qualify(name)); err != nil {
			s.logger.Warn("isolated store cleanup failed",
				"agent", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
