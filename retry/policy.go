package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrInvalidPolicy reports a policy configuration that cannot be honored.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy decides how many attempts an operation gets and how long to wait
// between them. The retry index passed to Delay is zero-based: the delay
// before the first retry is Delay(0).
type Policy interface {
	Delay(retry int) time.Duration
	MaxAttempts() int
	// MaxDuration bounds the total elapsed time of a run. Zero means
	// unbounded.
	MaxDuration() time.Duration
	// Kind names the policy class for metrics tagging.
	Kind() string
}

// NonePolicy allows exactly one attempt.
type NonePolicy struct{}

// None returns the single-attempt policy.
func None() NonePolicy { return NonePolicy{} }

// Delay implements Policy. It is never consulted because no retry happens.
func (NonePolicy) Delay(int) time.Duration { return 0 }

// MaxAttempts implements Policy.
func (NonePolicy) MaxAttempts() int { return 1 }

// MaxDuration implements Policy.
func (NonePolicy) MaxDuration() time.Duration { return 0 }

// Kind implements Policy.
func (NonePolicy) Kind() string { return "none" }

// FixedPolicy waits the same interval between attempts.
type FixedPolicy struct {
	Every    time.Duration
	Attempts int
	Budget   time.Duration
}

// Fixed returns a constant-delay policy with no overall budget. Attempt
// counts below one are raised to one.
func Fixed(every time.Duration, attempts int) FixedPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return FixedPolicy{Every: every, Attempts: attempts}
}

// Delay implements Policy.
func (p FixedPolicy) Delay(int) time.Duration { return p.Every }

// MaxAttempts implements Policy.
func (p FixedPolicy) MaxAttempts() int { return p.Attempts }

// MaxDuration implements Policy.
func (p FixedPolicy) MaxDuration() time.Duration { return p.Budget }

// Kind implements Policy.
func (p FixedPolicy) Kind() string { return "fixed" }

// ExponentialConfig configures an ExponentialPolicy.
type ExponentialConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	MaxAttempts  int
	MaxDuration  time.Duration
}

// DefaultExponentialConfig returns the standard backoff configuration:
// 3 attempts starting at 200ms, doubling up to 30s with 10% jitter, bounded
// at 10 minutes overall.
func DefaultExponentialConfig() ExponentialConfig {
	return ExponentialConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		MaxAttempts:  3,
		MaxDuration:  10 * time.Minute,
	}
}

// ExponentialPolicy grows the delay geometrically, caps it, and spreads it
// with jitter to avoid synchronized retries.
type ExponentialPolicy struct {
	cfg ExponentialConfig
}

// Exponential validates cfg and returns the policy. The multiplier must
// exceed 1.0, the cap must be at least the initial delay, and the jitter
// factor must lie in [0, 1].
func Exponential(cfg ExponentialConfig) (*ExponentialPolicy, error) {
	if cfg.InitialDelay <= 0 {
		return nil, fmt.Errorf("%w: initial delay must be positive, got %s", ErrInvalidPolicy, cfg.InitialDelay)
	}
	if cfg.Multiplier <= 1.0 {
		return nil, fmt.Errorf("%w: multiplier must exceed 1.0, got %g", ErrInvalidPolicy, cfg.Multiplier)
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return nil, fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidPolicy, cfg.MaxDelay, cfg.InitialDelay)
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		return nil, fmt.Errorf("%w: jitter factor must be in [0,1], got %g", ErrInvalidPolicy, cfg.JitterFactor)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &ExponentialPolicy{cfg: cfg}, nil
}

// Delay implements Policy. For retry index n the base delay is
// initial * multiplier^n capped at the max delay, then drawn uniformly from
// [base*(1-j), base*(1+j)].
func (p *ExponentialPolicy) Delay(retry int) time.Duration {
	base := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(retry))
	if max := float64(p.cfg.MaxDelay); base > max {
		base = max
	}
	if j := p.cfg.JitterFactor; j > 0 {
		low := base * (1 - j)
		high := base * (1 + j)
		base = low + rand.Float64()*(high-low)
	}
	return time.Duration(base)
}

// MaxAttempts implements Policy.
func (p *ExponentialPolicy) MaxAttempts() int { return p.cfg.MaxAttempts }

// MaxDuration implements Policy.
func (p *ExponentialPolicy) MaxDuration() time.Duration { return p.cfg.MaxDuration }

// Kind implements Policy.
func (p *ExponentialPolicy) Kind() string { return "exponential" }
