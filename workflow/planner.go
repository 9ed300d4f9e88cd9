package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/braidwork/braid/agent"
	"github.com/braidwork/braid/llm"
	"github.com/braidwork/braid/metrics"
	"github.com/braidwork/braid/plan"
)

// defaultMaxFormatRetries is how many corrective round-trips the planner
// makes when the model's response cannot be parsed into a plan. Each retry
// feeds the parse error and the invalid output back to the model.
const defaultMaxFormatRetries = 2

// Planner turns a free-form user request into a validated task plan by
// prompting a text-generation client for a strict JSON array.
type Planner struct {
	client           llm.Client
	logger           *slog.Logger
	sink             metrics.Sink
	maxFormatRetries int
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerLogger sets the planner logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) { p.logger = logger }
}

// WithPlannerMetrics attaches a metrics sink.
func WithPlannerMetrics(sink metrics.Sink) PlannerOption {
	return func(p *Planner) { p.sink = sink }
}

// WithMaxFormatRetries overrides how many corrective round-trips a parse
// failure earns before the planner gives up.
func WithMaxFormatRetries(n int) PlannerOption {
	return func(p *Planner) { p.maxFormatRetries = n }
}

// NewPlanner builds a planner over client.
func NewPlanner(client llm.Client, opts ...PlannerOption) (*Planner, error) {
	if client == nil {
		return nil, &agent.ArgumentError{Field: "client", Message: "must not be nil"}
	}
	p := &Planner{
		client:           client,
		maxFormatRetries: defaultMaxFormatRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.maxFormatRetries < 0 {
		p.maxFormatRetries = 0
	}
	return p, nil
}

// BuildPlan asks the model to decompose userRequest into tasks. The model
// must answer with nothing but a JSON array; chatty responses are salvaged
// by slicing out the array, and unparseable ones earn corrective retries.
// A client failure is returned immediately, format retries apply only to
// parse and validation failures.
func (p *Planner) BuildPlan(ctx context.Context, userRequest string) (plan.Plan, error) {
	if strings.TrimSpace(userRequest) == "" {
		return nil, &agent.ArgumentError{Field: "userRequest", Message: "must not be blank"}
	}

	base := buildPlannerPrompt(userRequest)
	prompt := base

	var lastRaw string
	var lastErr error
	for attempt := 0; attempt <= p.maxFormatRetries; attempt++ {
		raw, err := p.client.Generate(ctx, prompt)
		if err != nil {
			metrics.Count(p.sink, "planner.plans.count", map[string]string{"success": "false"})
			metrics.Error(p.sink, "planner", "generate", err.Error())
			return nil, &PlannerError{Err: fmt.Errorf("generate plan: %w", err)}
		}
		lastRaw = raw

		tasks, parseErr := parsePlanResponse(raw)
		if parseErr == nil {
			metrics.Count(p.sink, "planner.plans.count", map[string]string{"success": "true"})
			p.logger.Info("plan built", "tasks", len(tasks), "attempts", attempt+1)
			return tasks, nil
		}
		lastErr = parseErr

		if attempt == p.maxFormatRetries {
			break
		}
		p.logger.Warn("plan format retry",
			"attempt", attempt+1, "error", parseErr)
		metrics.Count(p.sink, "planner.format_retries.count", nil)
		prompt = formatCorrectionPrompt(base, raw, parseErr)
	}

	metrics.Count(p.sink, "planner.plans.count", map[string]string{"success": "false"})
	metrics.Error(p.sink, "planner", "parse", lastErr.Error())
	return nil, &PlannerError{
		RawOutput: lastRaw,
		Err:       fmt.Errorf("parse plan after %d attempts: %w", p.maxFormatRetries+1, lastErr),
	}
}

// parsePlanResponse salvages the JSON array from a model response and
// decodes and validates it.
func parsePlanResponse(raw string) (plan.Plan, error) {
	arr := llm.ExtractJSONArray(raw)
	if arr == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var tasks plan.Plan
	if err := json.Unmarshal([]byte(arr), &tasks); err != nil {
		return nil, fmt.Errorf("decode task array: %w", err)
	}
	if err := tasks.Validate(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// buildPlannerPrompt is the plan-generation instruction. The format rules
// are spelled out in full because parsePlanResponse is their strict
// counterpart.
func buildPlannerPrompt(userRequest string) string {
	return `You are a planning assistant. Decompose the user request into an ordered list of tasks.

Respond with ONLY a JSON array of task objects. No prose, no markdown code fences, no comments.

Each task object has exactly these fields:
- "name": short unique identifier, lowercase, hyphenated, no whitespace
- "description": one sentence describing what the task does
- "promptTemplate": the prompt for the agent executing the task

Prompt templates may reference {{user_request}} (the original request), {{prev_output}} (the latest earlier output), or {{<task name>}} (the output of any earlier task by name). Order tasks so every reference points at an earlier task.

Example:
[{"name": "gather-facts", "description": "Collect the key facts.", "promptTemplate": "List the key facts about: {{user_request}}"}, {"name": "write-summary", "description": "Summarize the facts.", "promptTemplate": "Summarize these facts:\n{{gather-facts}}"}]

User request: ` + userRequest
}

// formatCorrectionPrompt rebuilds the planner prompt with the parse error
// and the invalid response appended so the model can fix its output.
func formatCorrectionPrompt(base, raw string, parseErr error) string {
	return base + fmt.Sprintf(
		"\n\nYour previous response could not be used. Error: %s\n\nPrevious response:\n%s\n\nRespond again with ONLY the JSON array.",
		parseErr.Error(), raw)
}
