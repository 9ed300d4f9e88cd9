// Package main provides the braid binary entry point.
// Braid turns a natural-language request into a dependency-ordered task
// plan and executes it with LLM worker agents, persisting every task
// output so an interrupted run resumes where it stopped.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/braidwork/braid/llm/providers"
)

// Build metadata, overridden at release time via
// -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildTime=...".
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "dev"
)

const appName = "braid"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "LLM workflow orchestrator",
		Long: `Braid turns a natural-language request into a dependency-ordered
task plan and executes it with LLM worker agents.

It provides:
- LLM-backed plan generation with task dependency analysis
- Batch-parallel execution with sequential fallback
- Resumable workflows on memory, NATS, Redis, or SQLite stores

Task outputs persist the moment they exist, so rerunning a workflow
skips finished tasks and picks up where the last run stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(planCommand(flags))
	cmd.AddCommand(runCommand(flags))
	cmd.AddCommand(resumeCommand(flags))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (commit: %s, build: %s)\n", appName, Version, Commit, BuildTime)
		},
	})

	return cmd
}

func planCommand(root *rootFlags) *cobra.Command {
	var (
		request string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a task plan and print it without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return runPlan(ctx, cfg, logger, request, asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&request, "request", "r", "", "What the workflow should accomplish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON instead of a table")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

func runCommand(root *rootFlags) *cobra.Command {
	var (
		workflowID    string
		request       string
		storeBackend  string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow, reusing any persisted plan and outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			applyOverrides(cfg, storeBackend, metricsListen)

			if workflowID == "" {
				workflowID = uuid.NewString()[:8]
				logger.Info("generated workflow id", "workflow", workflowID)
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.runner.RunWorkflow(ctx, workflowID, request)
			printResults(cmd.OutOrStdout(), results, err)
			return err
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow-id", "w", "", "Workflow identifier (generated when omitted)")
	cmd.Flags().StringVarP(&request, "request", "r", "", "What the workflow should accomplish")
	cmd.Flags().StringVar(&storeBackend, "store", "", "Store backend override (memory, nats, redis, sqlite)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

func resumeCommand(root *rootFlags) *cobra.Command {
	var (
		workflowID    string
		request       string
		storeBackend  string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a workflow that already has a persisted plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			applyOverrides(cfg, storeBackend, metricsListen)

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.runner.ResumeWorkflow(ctx, workflowID, request)
			printResults(cmd.OutOrStdout(), results, err)
			return err
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow-id", "w", "", "Workflow identifier")
	cmd.Flags().StringVarP(&request, "request", "r", "", "Original request, substituted into task prompts")
	cmd.Flags().StringVar(&storeBackend, "store", "", "Store backend override (memory, nats, redis, sqlite)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9090")
	_ = cmd.MarkFlagRequired("workflow-id")

	return cmd
}
