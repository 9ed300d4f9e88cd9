package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/braidwork/braid/metrics"
)

// Runner executes operations under a policy, classifying failures and
// sleeping between attempts. Sleeps are interruptible: context cancellation
// surfaces as a CancelledError, never as an ordinary operation failure.
type Runner struct {
	operation string
	policy    Policy
	classify  Classifier
	sink      metrics.Sink
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClassifier overrides the default transient classifier.
func WithClassifier(c Classifier) RunnerOption {
	return func(r *Runner) { r.classify = c }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(s metrics.Sink) RunnerOption {
	return func(r *Runner) { r.sink = s }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a runner for the named operation. The name tags every
// metric the runner emits. A nil policy means a single attempt.
func NewRunner(operation string, policy Policy, opts ...RunnerOption) *Runner {
	r := &Runner{
		operation: operation,
		policy:    policy,
		classify:  DefaultClassifier,
		logger:    slog.Default(),
	}
	if r.policy == nil {
		r.policy = None()
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.classify == nil {
		r.classify = DefaultClassifier
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Operation returns the name the runner was built with.
func (r *Runner) Operation() string { return r.operation }

// Run executes op under the runner's policy.
func (r *Runner) Run(ctx context.Context, op func(context.Context) error) error {
	_, err := RunValue(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RunValue executes op under r's policy and returns its value. It stops on
// success, on a non-retryable error, when attempts are exhausted, when the
// policy's duration budget would be exceeded by the next sleep, or when ctx
// is cancelled.
func RunValue[T any](ctx context.Context, r *Runner, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var (
		start    = time.Now()
		attempts int
		failures int
		runErr   error
	)
	defer func() {
		tags := map[string]string{
			"operation": r.operation,
			"policy":    r.policy.Kind(),
			"success":   strconv.FormatBool(runErr == nil),
			"retried":   strconv.FormatBool(attempts > 1),
		}
		metrics.Gauge(r.sink, "retry.attempts.total", float64(attempts), tags)
		metrics.Gauge(r.sink, "retry.failures.total", float64(failures), tags)
		metrics.Timer(r.sink, "retry.duration.total", start, tags)
		metrics.Count(r.sink, "retry.operations.count", tags)
	}()

	maxAttempts := r.policy.MaxAttempts()
	budget := r.policy.MaxDuration()

	for {
		if err := ctx.Err(); err != nil {
			runErr = &CancelledError{err: err}
			return zero, runErr
		}

		attempts++
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		failures++

		if ctx.Err() != nil {
			runErr = &CancelledError{err: ctx.Err()}
			return zero, runErr
		}

		runErr = fmt.Errorf("%s: attempt %d/%d: %w", r.operation, attempts, maxAttempts, err)

		if !r.classify(err) {
			return zero, runErr
		}
		if attempts >= maxAttempts {
			return zero, runErr
		}

		delay := r.policy.Delay(attempts - 1)
		if budget > 0 && time.Since(start)+delay >= budget {
			r.logger.Debug("retry budget exhausted",
				"operation", r.operation,
				"attempts", attempts,
				"budget", budget)
			return zero, runErr
		}

		r.logger.Warn("operation failed, retrying",
			"operation", r.operation,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			runErr = &CancelledError{err: ctx.Err()}
			return zero, runErr
		case <-time.After(delay):
		}
	}
}
