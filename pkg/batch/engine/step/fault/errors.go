package fault

import (
	"errors"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Phase names the operation that failed.
type Phase string

const (
	PhaseRead    Phase = "read"
	PhaseProcess Phase = "process"
	PhaseWrite   Phase = "write"
	PhaseChunk   Phase = "chunk"
)

// Reason explains why a failure was not tolerated.
type Reason string

const (
	ReasonNeverSkip         Reason = "never-skip failure"
	ReasonSkipLimitExceeded Reason = "skip limit exceeded"
	ReasonNotSkippable      Reason = "failure is neither retryable nor skippable"
	ReasonRetryExhausted    Reason = "retry limit exhausted"
)

// NonSkippableError reports a failure classified Fatal.
type NonSkippableError struct {
	Phase  Phase
	Reason Reason
	Cause  error
}

// NewNonSkippableError classifies why err was fatal and wraps it.
func NewNonSkippableError(phase Phase, err error, p Policy, attempts int, c *Counters) *NonSkippableError {
	reason := ReasonNotSkippable
	switch {
	case p.IsNeverSkip(err):
		reason = ReasonNeverSkip
	case p.IsSkippable(err) && c != nil && c.Skips >= p.SkipLimit:
		reason = ReasonSkipLimitExceeded
	case p.IsRetryable(err) && !p.IsSkippable(err):
		reason = ReasonRetryExhausted
	}
	return &NonSkippableError{Phase: phase, Reason: reason, Cause: err}
}

func (e *NonSkippableError) Error() string {
	return fmt.Sprintf("non-skippable %s failure (%s): %v", e.Phase, e.Reason, e.Cause)
}

func (e *NonSkippableError) Unwrap() error { return e.Cause }

// IsNonSkippable reports whether err carries a NonSkippableError.
func IsNonSkippable(err error) bool {
	var nse *NonSkippableError
	return errors.As(err, &nse)
}

func init() {
	exception.RegisterErrorType("NonSkippableError", &NonSkippableError{})
}
