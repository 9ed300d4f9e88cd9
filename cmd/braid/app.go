package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/braidwork/braid/agent"
	"github.com/braidwork/braid/config"
	"github.com/braidwork/braid/llm"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/plan"
	"github.com/braidwork/braid/retry"
	"github.com/braidwork/braid/store"
	"github.com/braidwork/braid/store/gormstore"
	"github.com/braidwork/braid/store/memstore"
	"github.com/braidwork/braid/store/natskv"
	"github.com/braidwork/braid/store/redisstore"
	"github.com/braidwork/braid/workflow"
)

// Default endpoints used when the config leaves them blank.
const (
	defaultNATSURL   = "nats://localhost:4222"
	defaultRedisAddr = "localhost:6379"
)

// setup loads configuration and builds the process logger. The --log-level
// flag wins over both the config file and BRAID_LOG_LEVEL.
func setup(flags *rootFlags) (*config.Config, *slog.Logger, error) {
	boot := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.NewLoader(boot).Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM. The
// engine stops dispatching at the next batch boundary, so interruption
// leaves only finished outputs behind and the workflow stays resumable.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// applyOverrides layers command-line overrides onto the loaded config.
func applyOverrides(cfg *config.Config, storeBackend, metricsListen string) {
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if metricsListen != "" {
		cfg.Metrics.ListenAddr = metricsListen
	}
}

// app wires the pieces a run needs: metrics, store, LLM clients, tools,
// and the workflow runner. close releases them in reverse order.
type app struct {
	runner   *workflow.Runner
	cleanups []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	sink := a.startMetrics(cfg.Metrics, logger)

	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, closeStore)

	plannerClient, workerClient, err := buildClients(cfg, logger, sink)
	if err != nil {
		a.close()
		return nil, err
	}

	tools, err := builtinTools(logger, sink)
	if err != nil {
		a.close()
		return nil, err
	}

	runner, err := workflow.NewRunner(workflow.RunnerConfig{
		PlannerClient: plannerClient,
		WorkerClient:  workerClient,
		Store:         st,
		Config:        cfg,
		Tools:         tools,
		Metrics:       sink,
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// startMetrics builds the metrics sink. With a listen address configured
// the sink is Prometheus-backed and served over HTTP; otherwise metrics
// stay in memory.
func (a *app) startMetrics(cfg config.MetricsConfig, logger *slog.Logger) metrics.Sink {
	if cfg.ListenAddr == "" {
		return metrics.NewMemorySink()
	}

	reg := prometheus.NewRegistry()
	sink := metrics.NewPromSink(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	a.cleanups = append(a.cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	return sink
}

// openStore builds the persistence backend named by the config. The
// returned func closes it; callers run it once the workflow finishes.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	closer := func(name string, c interface{ Close() error }) func() {
		return func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing store", "backend", name, "error", err)
			}
		}
	}

	switch cfg.Backend {
	case "", "memory":
		logger.Debug("using in-memory store")
		st := memstore.New()
		return st, closer("memory", st), nil

	case "nats":
		url := cfg.NATSURL
		if url == "" {
			url = defaultNATSURL
		}
		logger.Info("connecting to NATS store", "url", url)
		st, err := natskv.Open(ctx, url, natskv.WithLogger(logger))
		if err != nil {
			return nil, nil, wrapNATSError(err, url)
		}
		return st, closer("nats", st), nil

	case "redis":
		addr := cfg.RedisAddr
		if addr == "" {
			addr = defaultRedisAddr
		}
		logger.Info("connecting to Redis store", "addr", addr)
		st := redisstore.New(addr)
		return st, closer("redis", st), nil

	case "sqlite":
		logger.Info("opening SQLite store", "path", cfg.SQLitePath)
		st, err := gormstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open SQLite store: %w", err)
		}
		return st, closer("sqlite", st), nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// wrapNATSError provides helpful guidance when the NATS store is unreachable.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func retryPolicy(cfg config.RetryConfig) (retry.Policy, error) {
	return retry.Exponential(retry.ExponentialConfig{
		InitialDelay: cfg.InitialDelay.Std(),
		MaxDelay:     cfg.MaxDelay.Std(),
		Multiplier:   cfg.Multiplier,
		JitterFactor: cfg.JitterFactor,
		MaxAttempts:  cfg.MaxAttempts,
		MaxDuration:  cfg.MaxDuration.Std(),
	})
}

// buildClients constructs the planner and worker LLM clients. Both share
// the provider, timeout, and retry policy; the planner may use a
// different model.
func buildClients(cfg *config.Config, logger *slog.Logger, sink metrics.Sink) (llm.Client, llm.Client, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, nil, fmt.Errorf("retry policy: %w", err)
	}

	planner, err := newClient(cfg.LLM, cfg.LLM.EffectivePlannerModel(), policy, logger, sink)
	if err != nil {
		return nil, nil, fmt.Errorf("planner client: %w", err)
	}
	worker, err := newClient(cfg.LLM, cfg.LLM.Model, policy, logger, sink)
	if err != nil {
		return nil, nil, fmt.Errorf("worker client: %w", err)
	}
	return planner, worker, nil
}

func newClient(cfg config.LLMConfig, model string, policy retry.Policy, logger *slog.Logger, sink metrics.Sink) (llm.Client, error) {
	opts := []llm.Option{
		llm.WithModel(model),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		llm.WithRetryRunner(retry.NewRunner("llm.generate", policy,
			retry.WithLogger(logger), retry.WithMetrics(sink))),
		llm.WithLogger(logger),
		llm.WithMetrics(sink),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKeyEnv != "" {
		opts = append(opts, llm.WithAPIKeyEnv(cfg.APIKeyEnv))
	}
	if cfg.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.MaxTokens))
	}
	return llm.NewHTTPClient(cfg.Provider, opts...)
}

// builtinTools registers the tools implicit worker agents may call.
func builtinTools(logger *slog.Logger, sink metrics.Sink) (*agent.Registry, error) {
	reg := agent.NewRegistry(agent.WithRegistryLogger(logger), agent.WithRegistryMetrics(sink))

	echo := agent.NewToolFunc("echo", "Repeats its input back unchanged.",
		func(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionResult, error) {
			return agent.ExecutionResult{Success: true, Output: input.Content}, nil
		})
	if err := reg.Register(echo); err != nil {
		return nil, fmt.Errorf("register echo tool: %w", err)
	}
	return reg, nil
}

// runPlan builds a plan for the request and prints it without executing.
func runPlan(ctx context.Context, cfg *config.Config, logger *slog.Logger, request string, asJSON bool, w io.Writer) error {
	sink := metrics.NewMemorySink()

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	client, err := newClient(cfg.LLM, cfg.LLM.EffectivePlannerModel(), policy, logger, sink)
	if err != nil {
		return fmt.Errorf("planner client: %w", err)
	}

	planner, err := workflow.NewPlanner(client,
		workflow.WithPlannerLogger(logger),
		workflow.WithPlannerMetrics(sink))
	if err != nil {
		return err
	}

	p, err := planner.BuildPlan(ctx, request)
	if err != nil {
		return err
	}

	return printPlan(w, p, asJSON)
}

// printPlan renders the plan as a batch table or as JSON.
func printPlan(w io.Writer, p plan.Plan, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	batches, err := workflow.Batches(p)
	if err != nil {
		return err
	}

	batchOf := make(map[string]int, len(p))
	for i, batch := range batches {
		for _, name := range batch {
			batchOf[name] = i + 1
		}
	}

	fmt.Fprintf(w, "%d tasks in %d batches (parallelism ratio %.2f)\n\n",
		len(p), len(batches), workflow.ParallelismRatio(len(p), len(batches)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tTASK\tDEPENDS ON\tDESCRIPTION")
	for i, task := range p {
		deps := strings.Join(workflow.Dependencies(p, i), ", ")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", batchOf[task.Name], task.Name, deps, task.Description)
	}
	return tw.Flush()
}

// printResults writes one status line per task, then the final output of a
// fully successful run.
func printResults(w io.Writer, results []workflow.TaskResult, runErr error) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "✗ %s: %v\n", r.Task, r.Err)
		case r.Skipped:
			fmt.Fprintf(w, "✓ %s (already complete)\n", r.Task)
		default:
			fmt.Fprintf(w, "✓ %s\n", r.Task)
		}
	}

	if runErr != nil || len(results) == 0 {
		return
	}
	last := results[len(results)-1]
	if last.Err == nil {
		fmt.Fprintf(w, "\n%s\n", last.Result.Output)
	}
}
