// Package fault decides how a chunk-oriented step reacts to a failed read,
// process or write: retry the operation, skip the item, or fail the step.
package fault

import (
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Policy is the fault-tolerance configuration of a step.
// Failure kinds are names registered with exception.RegisterErrorType or Go type names.
type Policy struct {
	// RetryLimit is the number of retries allowed for one item.
	RetryLimit int
	// RetryableKinds are failure kinds that may be retried.
	RetryableKinds []string
	// NoRetryKinds are never retried, even when they also match RetryableKinds.
	NoRetryKinds []string
	// MaxTotalRetries caps the retries of the whole step. Zero means no cap.
	MaxTotalRetries int

	// SkipLimit is the number of items the step may skip in total.
	SkipLimit int
	// SkippableKinds are failure kinds that may be skipped.
	SkippableKinds []string
	// NoSkipKinds always fail the step. They take precedence over every other rule.
	NoSkipKinds []string

	// Backoff is applied before each retry. Nil means no delay.
	Backoff retry.Backoff
}

// NewPolicy returns an empty Policy: every failure is fatal.
func NewPolicy() Policy {
	return Policy{}
}

// Validate checks the configured limits and kinds.
func (p Policy) Validate() error {
	if p.RetryLimit < 0 {
		return fmt.Errorf("retry limit must not be negative: %d", p.RetryLimit)
	}
	if p.SkipLimit < 0 {
		return fmt.Errorf("skip limit must not be negative: %d", p.SkipLimit)
	}
	if p.MaxTotalRetries < 0 {
		return fmt.Errorf("max total retries must not be negative: %d", p.MaxTotalRetries)
	}
	return nil
}

// IsNeverSkip reports whether err matches a never-skip kind.
func (p Policy) IsNeverSkip(err error) bool {
	return matchesAny(err, p.NoSkipKinds)
}

// IsRetryable reports whether err may be retried, ignoring limits.
func (p Policy) IsRetryable(err error) bool {
	if err == nil || matchesAny(err, p.NoRetryKinds) {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsRetryable() {
		return true
	}
	return matchesAny(err, p.RetryableKinds)
}

// IsSkippable reports whether err may be skipped, ignoring limits.
func (p Policy) IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsSkippable() {
		return true
	}
	return matchesAny(err, p.SkippableKinds)
}

// Kind returns the configured kind name err matched, or its Go type name.
// It is used as the reason label of skip and retry metrics.
func (p Policy) Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, kinds := range [][]string{p.NoSkipKinds, p.RetryableKinds, p.SkippableKinds} {
		for _, k := range kinds {
			if exception.IsErrorOfType(err, k) {
				return k
			}
		}
	}
	return fmt.Sprintf("%T", err)
}

func matchesAny(err error, kinds []string) bool {
	if err == nil {
		return false
	}
	for _, k := range kinds {
		if exception.IsErrorOfType(err, k) {
			return true
		}
	}
	return false
}
