package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func newRun(t *testing.T, r *JobRepository, jobName string) (*model.JobInstance, *model.JobExecution) {
	t.Helper()
	ctx := context.Background()
	params := model.NewJobParametersBuilder().AddString("date", "2024-01-01").ToJobParameters()
	ji := model.NewJobInstance(jobName, params)
	require.NoError(t, r.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji, params)
	require.NoError(t, r.SaveJobExecution(ctx, je))
	return ji, je
}

func TestJobInstanceLookup(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository()
	ji, _ := newRun(t, r, "importJob")

	same := model.NewJobParametersBuilder().
		AddString("date", "2024-01-01").
		AddLong("run.id", 7, false).
		ToJobParameters()
	found, err := r.FindJobInstanceByJobNameAndParameters(ctx, "importJob", same)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)

	other := model.NewJobParametersBuilder().AddString("date", "2024-01-02").ToJobParameters()
	_, err = r.FindJobInstanceByJobNameAndParameters(ctx, "importJob", other)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	names, err := r.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"importJob"}, names)
}

func TestSaveJobInstance_RejectsSameIdentity(t *testing.T) {
	r := NewJobRepository()
	newRun(t, r, "importJob")

	params := model.NewJobParametersBuilder().AddString("date", "2024-01-01").ToJobParameters()
	err := r.SaveJobInstance(context.Background(), model.NewJobInstance("importJob", params))
	assert.ErrorIs(t, err, repository.ErrJobInstanceExists)
	assert.NoError(t, r.SaveJobInstance(context.Background(), model.NewJobInstance("exportJob", params)))
}

func TestUpdateStepExecution_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository()
	_, je := newRun(t, r, "job")
	se := model.NewStepExecution("step1", je)
	require.NoError(t, r.SaveStepExecution(ctx, se))

	stale, err := r.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.ReadCount = 5
	require.NoError(t, r.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	stale.ReadCount = 1
	err = r.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	got, err := r.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ReadCount)
}

func TestWritesAreStagedUntilCommit(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository()
	txm := tx.NewResourcelessTransactionManager()
	ji, je := newRun(t, r, "job")
	se := model.NewStepExecution("step1", je)
	require.NoError(t, r.SaveStepExecution(ctx, se))

	cp := &model.CheckpointData{JobInstanceID: ji.ID, StepName: "step1", ExecutionContext: model.ExecutionContext{"pos": 3}}

	// Rolled back: nothing is visible.
	t1, err := txm.Begin(ctx)
	require.NoError(t, err)
	se.WriteCount = 3
	require.NoError(t, r.UpdateStepExecution(tx.WithTx(ctx, t1), se))
	require.NoError(t, r.SaveCheckpointData(tx.WithTx(ctx, t1), cp))
	got, _ := r.FindStepExecutionByID(ctx, se.ID)
	assert.Equal(t, 0, got.WriteCount)
	require.NoError(t, txm.Rollback(t1))

	_, err = r.FindCheckpointData(ctx, ji.ID, "step1")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
	got, _ = r.FindStepExecutionByID(ctx, se.ID)
	assert.Equal(t, 0, got.WriteCount)
	assert.Equal(t, 0, got.Version)

	// Committed: the staged writes are applied.
	se.Version = 0
	t2, err := txm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, r.UpdateStepExecution(tx.WithTx(ctx, t2), se))
	require.NoError(t, r.SaveCheckpointData(tx.WithTx(ctx, t2), cp))
	require.NoError(t, txm.Commit(t2))

	got, _ = r.FindStepExecutionByID(ctx, se.ID)
	assert.Equal(t, 3, got.WriteCount)
	found, err := r.FindCheckpointData(ctx, ji.ID, "step1")
	require.NoError(t, err)
	pos, _ := found.ExecutionContext.GetInt("pos")
	assert.Equal(t, 3, pos)
}

func TestFindJobExecutions(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository()
	ji, first := newRun(t, r, "job")
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.SaveStepExecution(ctx, model.NewStepExecution(name, first)))
	}
	second := model.NewJobExecution(ji, ji.Parameters)
	require.NoError(t, r.SaveJobExecution(ctx, second))

	loaded, err := r.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, loaded.StepExecutions, 3)
	assert.Equal(t, "a", loaded.StepExecutions[0].StepName)
	assert.Equal(t, "c", loaded.StepExecutions[2].StepName)
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	latest, err := r.FindLatestJobExecution(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	all, err := r.FindJobExecutionsByJobInstance(ctx, ji)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	_, err = r.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}
