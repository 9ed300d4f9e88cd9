// Package workflow implements the orchestration core: an LLM-driven
// planner, dependency analysis over prompt-template references, parallel
// and sequential execution engines, and the end-to-end runner that ties
// them to the persistence store.
package workflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircularDependency reports that the plan's tasks reference each other
// in a loop, so no execution order exists. Nothing is dispatched.
var ErrCircularDependency = errors.New("circular dependency")

// ErrNoPlan reports a resume attempt for a workflow id that has no
// persisted plan.
var ErrNoPlan = errors.New("no plan persisted for workflow")

// ErrBatchRejected reports that the approver vetoed a batch. The run stops
// before the batch dispatches and never falls back to sequential.
var ErrBatchRejected = errors.New("batch rejected by approver")

// PlannerError reports that the planner could not turn the model's output
// into a valid plan. RawOutput carries the last response verbatim so the
// failure can be diagnosed without re-running the model.
type PlannerError struct {
	RawOutput string
	Err       error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("planner: %v", e.Err)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// TaskTimeoutError reports that one task exceeded its wall-clock budget.
// It fails that task only; sibling tasks in the same batch finish, later
// batches do not start.
type TaskTimeoutError struct {
	Task    string
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s: timed out after %s", e.Task, e.Timeout)
}
