package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/braidwork/braid/agent"
	"github.com/braidwork/braid/config"
	"github.com/braidwork/braid/llm"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/retry"
	"github.com/braidwork/braid/store"
)

// RunnerConfig wires a Runner. PlannerClient, WorkerClient, and Store are
// required; a nil Config means defaults, a nil Approver auto-approves.
type RunnerConfig struct {
	PlannerClient llm.Client
	WorkerClient  llm.Client
	Store         store.Store
	Config        *config.Config
	Tools         *agent.Registry
	Metrics       metrics.Sink
	Logger        *slog.Logger
	Approver      Approver
}

// Runner drives a workflow end to end: load or build the plan, pick an
// execution mode, run the tasks through implicit worker agents, and leave
// every output persisted so the same call resumes an interrupted run.
type Runner struct {
	planner      *Planner
	engine       *Engine
	orchestrator *agent.Orchestrator
	workerClient llm.Client
	store        store.Store
	cfg          *config.Config
	logger       *slog.Logger
	sink         metrics.Sink
}

// NewRunner builds a runner from cfg.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.PlannerClient == nil {
		return nil, &agent.ArgumentError{Field: "planner client", Message: "must not be nil"}
	}
	if cfg.WorkerClient == nil {
		return nil, &agent.ArgumentError{Field: "worker client", Message: "must not be nil"}
	}
	if cfg.Store == nil {
		return nil, &agent.ArgumentError{Field: "store", Message: "must not be nil"}
	}
	if cfg.Config == nil {
		cfg.Config = config.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	planner, err := NewPlanner(cfg.PlannerClient,
		WithPlannerLogger(cfg.Logger),
		WithPlannerMetrics(cfg.Metrics),
	)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(cfg.Store, cfg.Config.Parallelism,
		WithEngineLogger(cfg.Logger),
		WithEngineMetrics(cfg.Metrics),
		WithApprover(cfg.Approver),
	)
	if err != nil {
		return nil, err
	}

	orchestrator := agent.NewOrchestrator(agent.OrchestratorConfig{
		Store:       cfg.Store,
		Tools:       cfg.Tools,
		Metrics:     cfg.Metrics,
		Logger:      cfg.Logger,
		MemoryLimit: cfg.Config.Memory.DefaultMemoryLimit,
	})

	return &Runner{
		planner:      planner,
		engine:       engine,
		orchestrator: orchestrator,
		workerClient: cfg.WorkerClient,
		store:        cfg.Store,
		cfg:          cfg.Config,
		logger:       cfg.Logger,
		sink:         cfg.Metrics,
	}, nil
}

// Orchestrator exposes the runner's agent orchestrator so callers can
// register and address explicit agents alongside workflow runs.
func (r *Runner) Orchestrator() *agent.Orchestrator { return r.orchestrator }

// RunWorkflow executes the workflow. A persisted plan is reused without
// consulting the planner, which makes the call idempotent: finished tasks
// replay as skipped results and only unfinished work dispatches.
func (r *Runner) RunWorkflow(ctx context.Context, workflowID, userRequest string) ([]TaskResult, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &agent.ArgumentError{Field: "workflowID", Message: "must not be blank"}
	}

	p, ok, err := r.store.LoadPlan(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if ok {
		r.logger.Info("plan loaded", "workflow", workflowID, "tasks", len(p))
	} else {
		if strings.TrimSpace(userRequest) == "" {
			return nil, &agent.ArgumentError{Field: "userRequest", Message: "must not be blank"}
		}
		p, err = r.planner.BuildPlan(ctx, userRequest)
		if err != nil {
			return nil, err
		}
		if err := r.store.SavePlan(ctx, workflowID, p); err != nil {
			return nil, fmt.Errorf("save plan: %w", err)
		}
		r.logger.Info("plan built", "workflow", workflowID, "tasks", len(p))
	}

	return r.execute(ctx, workflowID, userRequest, p)
}

// ResumeWorkflow is RunWorkflow restricted to workflows that already have a
// persisted plan. It never invokes the planner.
func (r *Runner) ResumeWorkflow(ctx context.Context, workflowID, userRequest string) ([]TaskResult, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &agent.ArgumentError{Field: "workflowID", Message: "must not be blank"}
	}

	p, ok, err := r.store.LoadPlan(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPlan, workflowID)
	}
	r.logger.Info("resuming workflow", "workflow", workflowID, "tasks", len(p))

	return r.execute(ctx, workflowID, userRequest, p)
}

// execute picks the mode and runs the plan. Parallel execution falls back
// to a sequential rerun on task failure; completed tasks skip naturally, so
// the fallback never repeats finished work.
func (r *Runner) execute(ctx context.Context, workflowID, userRequest string, p plan.Plan) ([]TaskResult, error) {
	batches, err := Batches(p)
	if err != nil {
		return nil, fmt.Errorf("analyze plan: %w", err)
	}

	par := r.cfg.Parallelism
	ratio := ParallelismRatio(len(p), len(batches))
	parallel := par.Enabled &&
		len(p) >= par.MinTasksForParallelExecution &&
		ratio > par.ParallelismThreshold

	mode := "sequential"
	if parallel {
		mode = "parallel"
	}
	r.logger.Info("execution mode decided",
		"workflow", workflowID,
		"mode", mode,
		"tasks", len(p),
		"batches", len(batches),
		"parallelism_ratio", ratio)

	factory := r.implicitAgentFactory()
	if !parallel {
		return r.engine.RunSequential(ctx, workflowID, userRequest, p, factory)
	}

	results, err := r.engine.RunParallel(ctx, workflowID, userRequest, p, factory)
	if err == nil {
		return results, nil
	}
	if !par.FallbackToSequentialEnabled || !fallbackEligible(err) {
		return results, err
	}

	r.logger.Warn("parallel run failed, falling back to sequential",
		"workflow", workflowID, "error", err)
	metrics.Count(r.sink, "workflow.fallback.count", nil)
	return r.engine.RunSequential(ctx, workflowID, userRequest, p, factory)
}

// fallbackEligible reports whether a parallel failure is worth a sequential
// rerun. Cancellation, approver vetoes, and persistence failures are not:
// the first two were asked for, the third would fail again immediately.
func fallbackEligible(err error) bool {
	if retry.IsCancelled(err) {
		return false
	}
	if errors.Is(err, ErrBatchRejected) {
		return false
	}
	var pe *store.PersistenceError
	return !errors.As(err, &pe)
}

// implicitAgentFactory mints one worker agent per task through the
// orchestrator, so every agent shares the runner's store, tools, metrics,
// and memory limit. The engine hands the agent a fully rendered prompt, so
// no agent-level template is set.
func (r *Runner) implicitAgentFactory() AgentFactory {
	return func(ctx context.Context, task plan.Task) (Executor, error) {
		description := strings.TrimSpace(task.Description)
		if description == "" {
			description = "Executes workflow task " + task.Name + "."
		}
		return r.orchestrator.CreateImplicitAgent(ctx, "task-"+task.Name, description, r.workerClient, "")
	}
}
