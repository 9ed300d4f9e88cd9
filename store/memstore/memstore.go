// Package memstore provides an in-process store.Store backed by maps. It is
// the default backend for tests and single-shot CLI runs; nothing survives
// process exit.
package memstore

import (
	"context"
	"sync"

	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/store"
)

// Store keeps all state in memory behind a single RWMutex. Reads return
// copies so callers can never alias internal state.
type Store struct {
	mu      sync.RWMutex
	memory  map[string][]string
	plans   map[string]plan.Plan
	outputs map[string]*store.TaskOutputs
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		memory:  make(map[string][]string),
		plans:   make(map[string]plan.Plan),
		outputs: make(map[string]*store.TaskOutputs),
	}
}

func (s *Store) AddMemory(_ context.Context, agentName, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[agentName] = append(s.memory[agentName], entry)
	return nil
}

func (s *Store) LoadMemory(_ context.Context, agentName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.memory[agentName]
	out := make([]string, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) RemoveMemory(_ context.Context, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, agentName)
	return nil
}

func (s *Store) SavePlan(_ context.Context, workflowID string, p plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[workflowID] = p.Clone()
	return nil
}

func (s *Store) LoadPlan(_ context.Context, workflowID string) (plan.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[workflowID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (s *Store) SaveTaskOutput(_ context.Context, workflowID, taskName, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outs, ok := s.outputs[workflowID]
	if !ok {
		outs = store.NewTaskOutputs()
		s.outputs[workflowID] = outs
	}
	outs.Set(taskName, output)
	return nil
}

func (s *Store) LoadTaskOutputs(_ context.Context, workflowID string) (*store.TaskOutputs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := store.NewTaskOutputs()
	if outs, ok := s.outputs[workflowID]; ok {
		for _, name := range outs.Names() {
			v, _ := outs.Get(name)
			out.Set(name, v)
		}
	}
	return out, nil
}

func (s *Store) RemoveWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, workflowID)
	delete(s.outputs, workflowID)
	return nil
}

// Close is a no-op; it exists to satisfy store.Store.
func (s *Store) Close() error { return nil }
