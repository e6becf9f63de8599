package test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// NewTestJobParameters builds identifying STRING parameters from pairs, in key order.
func NewTestJobParameters(pairs map[string]string) model.JobParameters {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := model.NewJobParametersBuilder()
	for _, k := range keys {
		b.AddString(k, pairs[k])
	}
	return b.ToJobParameters()
}

// SaveTestJobExecution stores a new instance and execution of jobName in repo.
func SaveTestJobExecution(t *testing.T, repo repository.JobRepository, jobName string, params model.JobParameters) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	ji := model.NewJobInstance(jobName, params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji, params)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return je
}

// SaveTestStepExecution stores a new execution of stepName attached to je.
func SaveTestStepExecution(t *testing.T, repo repository.JobRepository, je *model.JobExecution, stepName string) *model.StepExecution {
	t.Helper()
	se := model.NewStepExecution(stepName, je)
	require.NoError(t, repo.SaveStepExecution(context.Background(), se))
	return se
}
