// Package retry provides the delay strategies applied between retries of a
// failed read, process or write.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Backoff computes the delay before a retry attempt.
type Backoff interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// None never waits.
type None struct{}

// Delay returns zero.
func (None) Delay(int) time.Duration { return 0 }

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration {
	return c.Interval
}

// Linear grows the delay with the attempt number: min(Initial*attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt: min(Initial*2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter picks a random delay in [0, d] instead of d.
	Jitter bool
}

// NewExponential creates an exponential backoff.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d = rand.Float64() * d //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

// New builds a Backoff by strategy name: "none", "constant", "linear",
// "exponential" or "exponential_jitter". An empty name selects "constant"
// when initial is positive and "none" otherwise.
func New(strategy string, initial, maxDelay time.Duration) (Backoff, error) {
	switch strings.ToLower(strategy) {
	case "":
		if initial > 0 {
			return NewConstant(initial), nil
		}
		return None{}, nil
	case "none":
		return None{}, nil
	case "constant", "fixed":
		return NewConstant(initial), nil
	case "linear":
		return NewLinear(initial, maxDelay), nil
	case "exponential":
		return NewExponential(initial, maxDelay), nil
	case "exponential_jitter":
		return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
}

// Wait sleeps for the delay of attempt, returning early with ctx's error if ctx ends.
func Wait(ctx context.Context, b Backoff, attempt int) error {
	if b == nil {
		return ctx.Err()
	}
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
