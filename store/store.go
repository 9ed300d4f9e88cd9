// Package store defines the persistence contract shared by every backend:
// a keyed, workflow-scoped map of agent memory logs, task outputs, and
// plans. Implementations live in the memstore, natskv, redisstore, and
// gormstore subpackages.
package store

import (
	"context"

	"github.com/braidwork/braid/plan"
)

// Store is the durable state behind a workflow run. All operations are safe
// for concurrent use. Memory logs are append-only and ordered; plans and
// task outputs are last-writer-wins overwrites. A value written and read
// back is byte-identical.
type Store interface {
	// AddMemory appends an entry to the named agent's memory log.
	AddMemory(ctx context.Context, agentName, entry string) error

	// LoadMemory returns the named agent's memory log, oldest first. A
	// missing log is an empty slice, not an error.
	LoadMemory(ctx context.Context, agentName string) ([]string, error)

	// RemoveMemory deletes the named agent's memory log. Removing a
	// missing log is a no-op.
	RemoveMemory(ctx context.Context, agentName string) error

	// SavePlan stores the workflow's plan, overwriting any previous one.
	SavePlan(ctx context.Context, workflowID string, p plan.Plan) error

	// LoadPlan returns the workflow's plan. ok is false when no plan has
	// been saved for the id.
	LoadPlan(ctx context.Context, workflowID string) (p plan.Plan, ok bool, err error)

	// SaveTaskOutput stores one task's output under the workflow,
	// overwriting any previous value for the same task.
	SaveTaskOutput(ctx context.Context, workflowID, taskName, output string) error

	// LoadTaskOutputs returns every stored output for the workflow,
	// preserving the order in which tasks were first persisted.
	LoadTaskOutputs(ctx context.Context, workflowID string) (*TaskOutputs, error)

	// RemoveWorkflow deletes the workflow's plan and task outputs.
	// Removing an unknown workflow is a no-op.
	RemoveWorkflow(ctx context.Context, workflowID string) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}
