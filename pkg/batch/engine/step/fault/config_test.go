package fault

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.NewConfig().ChunkBatch.Batch
	cfg.ItemRetry.MaxAttempts = 2
	cfg.ItemRetry.RetryableExceptions = []string{"context.DeadlineExceeded"}
	cfg.ItemSkip.SkipLimit = 3
	cfg.ItemSkip.SkippableExceptions = []string{"sql.ErrNoRows"}
	cfg.ItemSkip.NoSkipExceptions = []string{"context.Canceled"}

	p, err := PolicyFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, p.RetryLimit)
	assert.Equal(t, 3, p.SkipLimit)
	assert.True(t, p.IsRetryable(context.DeadlineExceeded))
	assert.True(t, p.IsSkippable(sql.ErrNoRows))
	assert.True(t, p.IsNeverSkip(context.Canceled))
	assert.NotNil(t, p.Backoff)

	cfg.ItemRetry.Backoff = "sideways"
	_, err = PolicyFromConfig(cfg)
	assert.Error(t, err)

	cfg.ItemRetry.Backoff = "none"
	cfg.ItemSkip.SkipLimit = -1
	_, err = PolicyFromConfig(cfg)
	assert.Error(t, err)
}
