package fault

import (
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
)

// PolicyFromConfig builds the default Policy of chunk steps from the batch configuration.
func PolicyFromConfig(cfg config.BatchConfig) (Policy, error) {
	backoff, err := retry.New(cfg.ItemRetry.Backoff, cfg.ItemRetry.InitialInterval, cfg.ItemRetry.MaxInterval)
	if err != nil {
		return Policy{}, fmt.Errorf("item_retry: %w", err)
	}
	p := Policy{
		RetryLimit:      cfg.ItemRetry.MaxAttempts,
		RetryableKinds:  append([]string(nil), cfg.ItemRetry.RetryableExceptions...),
		NoRetryKinds:    append([]string(nil), cfg.ItemRetry.NoRetryExceptions...),
		MaxTotalRetries: cfg.MaxTotalRetries,
		SkipLimit:       cfg.ItemSkip.SkipLimit,
		SkippableKinds:  append([]string(nil), cfg.ItemSkip.SkippableExceptions...),
		NoSkipKinds:     append([]string(nil), cfg.ItemSkip.NoSkipExceptions...),
		Backoff:         backoff,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
