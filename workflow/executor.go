package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/braidwork/braid/agent"
	"github.com/braidwork/braid/config"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/retry"
	"github.com/braidwork/braid/store"
)

// Executor runs one task input to completion. *agent.Agent satisfies it;
// the engine needs nothing else from the agent layer.
type Executor interface {
	Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionResult, error)
}

// AgentFactory builds the executor for one task. It is called once per
// dispatched task, never for tasks satisfied from the store.
type AgentFactory func(ctx context.Context, task plan.Task) (Executor, error)

// TaskResult is the outcome of one task within a run. Skipped marks a task
// whose persisted output satisfied it without dispatch; its Result carries
// the stored output with Success true.
type TaskResult struct {
	Task    string
	Result  agent.ExecutionResult
	Err     error
	Skipped bool
}

// Approver reviews each computed batch before it dispatches. Returning an
// error vetoes the batch and cancels the run. The batch index is zero-based.
type Approver interface {
	ApproveBatch(ctx context.Context, workflowID string, batch int, tasks []plan.Task) error
}

// Engine executes plans against a store, either batch-parallel or one task
// at a time. Task outputs persist as soon as they exist, so an interrupted
// run resumes by skipping whatever already completed. Safe for concurrent
// use; the MaxThreads cap applies across all runs sharing the engine.
type Engine struct {
	store    store.Store
	cfg      config.ParallelismConfig
	approver Approver
	logger   *slog.Logger
	sink     metrics.Sink

	sem chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithApprover installs a batch approval hook. Nil means auto-approve.
func WithApprover(a Approver) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithEngineMetrics attaches a metrics sink.
func WithEngineMetrics(sink metrics.Sink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// NewEngine builds an engine over st.
func NewEngine(st store.Store, cfg config.ParallelismConfig, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, &agent.ArgumentError{Field: "store", Message: "must not be nil"}
	}
	e := &Engine{
		store: st,
		cfg:   cfg,
		sem:   make(chan struct{}, cfg.EffectiveMaxThreads()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// RunParallel executes the plan batch by batch. Tasks within a batch run
// concurrently, bounded per batch and engine-wide. A failed task lets its
// batch siblings finish but stops every later batch. Results come back in
// plan order; tasks that never dispatched do not appear. The returned error
// is nil only when every task succeeded.
func (e *Engine) RunParallel(ctx context.Context, workflowID, userRequest string, p plan.Plan, factory AgentFactory) (results []TaskResult, err error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &agent.ArgumentError{Field: "workflowID", Message: "must not be blank"}
	}
	if factory == nil {
		return nil, &agent.ArgumentError{Field: "factory", Message: "must not be nil"}
	}

	start := time.Now()
	defer func() {
		metrics.Timer(e.sink, "workflow.execution.duration", start,
			map[string]string{"mode": "parallel", "success": strconv.FormatBool(err == nil)})
	}()

	batches, err := Batches(p)
	if err != nil {
		return nil, fmt.Errorf("analyze plan: %w", err)
	}

	persisted, err := e.store.LoadTaskOutputs(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load task outputs: %w", err)
	}

	e.logger.Info("parallel run starting",
		"workflow", workflowID,
		"tasks", len(p),
		"batches", len(batches),
		"persisted", persisted.Len())

	index := make(map[string]int, len(p))
	for i, t := range p {
		index[t.Name] = i
	}

	slots := make([]*TaskResult, len(p))
	completed := make(map[string]string, len(p))
	lastCompleted := -1
	limit := e.cfg.EffectiveBatchLimit()

	for bi, batch := range batches {
		if cerr := ctx.Err(); cerr != nil {
			return compactResults(slots), retry.Cancelled(cerr)
		}

		if e.approver != nil {
			tasks := make([]plan.Task, len(batch))
			for j, name := range batch {
				tasks[j] = p[index[name]]
			}
			if aerr := e.approver.ApproveBatch(ctx, workflowID, bi, tasks); aerr != nil {
				e.logger.Warn("batch rejected",
					"workflow", workflowID, "batch", bi, "error", aerr)
				return compactResults(slots), fmt.Errorf("batch %d: %w: %v", bi, ErrBatchRejected, aerr)
			}
		}

		vars := snapshotVars(userRequest, p, completed, lastCompleted)

		var mu sync.Mutex
		var fatal error
		g := new(errgroup.Group)
		g.SetLimit(limit)

		for _, name := range batch {
			i := index[name]
			task := p[i]

			if out, ok := persisted.Get(task.Name); ok {
				slots[i] = &TaskResult{
					Task:    task.Name,
					Result:  agent.ExecutionResult{Success: true, Output: out},
					Skipped: true,
				}
				e.logger.Debug("task satisfied from store",
					"workflow", workflowID, "task", task.Name)
				metrics.Count(e.sink, "workflow.task.count",
					map[string]string{"mode": "parallel", "status": "skipped"})
				continue
			}

			g.Go(func() error {
				r := e.runTask(ctx, workflowID, "parallel", task, vars, factory)
				mu.Lock()
				slots[i] = r
				if r.Err != nil && fatal == nil {
					var pe *store.PersistenceError
					if errors.As(r.Err, &pe) {
						fatal = r.Err
					}
				}
				mu.Unlock()
				return nil
			})
		}
		// Workers never return errors; failures live in the result slots.
		_ = g.Wait()

		// Batch boundary: successful outputs join the variable space all
		// at once so siblings never observed each other mid-batch.
		for _, name := range batch {
			i := index[name]
			r := slots[i]
			if r == nil || r.Err != nil || !r.Result.Success {
				continue
			}
			completed[name] = r.Result.Output
			if i > lastCompleted {
				lastCompleted = i
			}
		}

		if cerr := ctx.Err(); cerr != nil {
			return compactResults(slots), retry.Cancelled(cerr)
		}
		if fatal != nil {
			return compactResults(slots), fatal
		}
		if failed := firstFailure(slots, batch, index); failed != nil {
			e.logger.Error("batch had failures, stopping",
				"workflow", workflowID, "batch", bi, "task", failed.Task)
			return compactResults(slots), taskRunError(failed)
		}
	}

	e.logger.Info("parallel run finished", "workflow", workflowID, "tasks", len(p))
	return compactResults(slots), nil
}

// RunSequential executes the plan one task at a time in plan order,
// stopping at the first failure. Persisted outputs are skipped exactly as
// in the parallel engine.
func (e *Engine) RunSequential(ctx context.Context, workflowID, userRequest string, p plan.Plan, factory AgentFactory) (results []TaskResult, err error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &agent.ArgumentError{Field: "workflowID", Message: "must not be blank"}
	}
	if factory == nil {
		return nil, &agent.ArgumentError{Field: "factory", Message: "must not be nil"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.Timer(e.sink, "workflow.execution.duration", start,
			map[string]string{"mode": "sequential", "success": strconv.FormatBool(err == nil)})
	}()

	persisted, err := e.store.LoadTaskOutputs(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load task outputs: %w", err)
	}

	e.logger.Info("sequential run starting",
		"workflow", workflowID, "tasks", len(p), "persisted", persisted.Len())

	completed := make(map[string]string, len(p))
	lastCompleted := -1

	for i, task := range p {
		if cerr := ctx.Err(); cerr != nil {
			return results, retry.Cancelled(cerr)
		}

		if out, ok := persisted.Get(task.Name); ok {
			results = append(results, TaskResult{
				Task:    task.Name,
				Result:  agent.ExecutionResult{Success: true, Output: out},
				Skipped: true,
			})
			e.logger.Debug("task satisfied from store",
				"workflow", workflowID, "task", task.Name)
			metrics.Count(e.sink, "workflow.task.count",
				map[string]string{"mode": "sequential", "status": "skipped"})
			completed[task.Name] = out
			lastCompleted = i
			continue
		}

		vars := snapshotVars(userRequest, p, completed, lastCompleted)
		r := e.runTask(ctx, workflowID, "sequential", task, vars, factory)
		results = append(results, *r)

		if r.Err != nil || !r.Result.Success {
			e.logger.Error("task failed, stopping",
				"workflow", workflowID, "task", task.Name, "error", r.Err)
			return results, taskRunError(r)
		}

		completed[task.Name] = r.Result.Output
		lastCompleted = i
	}

	e.logger.Info("sequential run finished", "workflow", workflowID, "tasks", len(p))
	return results, nil
}

// runTask renders the task's template, builds its executor, and runs it
// under the per-task timeout and the engine-wide concurrency cap. The
// returned result carries any failure; it never panics across goroutines.
func (e *Engine) runTask(ctx context.Context, workflowID, mode string, task plan.Task, vars map[string]string, factory AgentFactory) *TaskResult {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return &TaskResult{Task: task.Name, Err: retry.Cancelled(ctx.Err())}
	}
	defer func() { <-e.sem }()

	rendered := Render(task.PromptTemplate, vars, e.logger)

	exec, err := factory(ctx, task)
	if err != nil {
		metrics.Count(e.sink, "workflow.task.count",
			map[string]string{"mode": mode, "status": "failed"})
		metrics.Error(e.sink, "workflow", "agent_factory", err.Error())
		return &TaskResult{Task: task.Name, Err: fmt.Errorf("create executor for task %q: %w", task.Name, err)}
	}

	timeout := e.cfg.TaskTimeout()
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskStart := time.Now()
	res, execErr := exec.Execute(taskCtx, agent.ExecutionInput{Content: rendered})
	metrics.Timer(e.sink, "workflow.task.duration", taskStart,
		map[string]string{"mode": mode})

	if execErr != nil {
		switch {
		case ctx.Err() != nil:
			execErr = retry.Cancelled(ctx.Err())
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			execErr = &TaskTimeoutError{Task: task.Name, Timeout: timeout}
		}
		e.logger.Error("task execution failed",
			"workflow", workflowID, "task", task.Name, "error", execErr)
		metrics.Count(e.sink, "workflow.task.count",
			map[string]string{"mode": mode, "status": "failed"})
		metrics.Error(e.sink, "workflow", "task_execution", execErr.Error())
		return &TaskResult{Task: task.Name, Result: res, Err: execErr}
	}

	if !res.Success {
		e.logger.Warn("task returned failure result",
			"workflow", workflowID, "task", task.Name, "output", res.Output)
		metrics.Count(e.sink, "workflow.task.count",
			map[string]string{"mode": mode, "status": "failed"})
		return &TaskResult{Task: task.Name, Result: res}
	}

	if serr := e.store.SaveTaskOutput(ctx, workflowID, task.Name, res.Output); serr != nil {
		e.logger.Error("task output persist failed",
			"workflow", workflowID, "task", task.Name, "error", serr)
		metrics.Error(e.sink, "workflow", "output_persist", serr.Error())
		return &TaskResult{Task: task.Name, Result: res, Err: fmt.Errorf("persist output of task %q: %w", task.Name, serr)}
	}

	e.logger.Debug("task completed", "workflow", workflowID, "task", task.Name)
	metrics.Count(e.sink, "workflow.task.count",
		map[string]string{"mode": mode, "status": "completed"})
	return &TaskResult{Task: task.Name, Result: res}
}

// snapshotVars assembles the variable space for one batch: every committed
// output, then the reserved names. Reserved names are assigned last so a
// task that happens to share their name never shadows them.
func snapshotVars(userRequest string, p plan.Plan, completed map[string]string, lastCompleted int) map[string]string {
	vars := make(map[string]string, len(completed)+2)
	for name, out := range completed {
		vars[name] = out
	}
	vars[VarUserRequest] = userRequest
	prev := ""
	if lastCompleted >= 0 {
		prev = completed[p[lastCompleted].Name]
	}
	vars[VarPrevOutput] = prev
	return vars
}

// firstFailure returns the plan-order-first failed result in the batch, or
// nil when every slot succeeded.
func firstFailure(slots []*TaskResult, batch []string, index map[string]int) *TaskResult {
	for _, name := range batch {
		r := slots[index[name]]
		if r == nil {
			continue
		}
		if r.Err != nil || !r.Result.Success {
			return r
		}
	}
	return nil
}

// taskRunError converts a failed result into the run-level error.
func taskRunError(r *TaskResult) error {
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("task %q failed: %s", r.Task, r.Result.Output)
}

// compactResults drops never-filled slots, preserving plan order.
func compactResults(slots []*TaskResult) []TaskResult {
	out := make([]TaskResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
