package sql_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/sqlite"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func newRepository(t *testing.T) (*sqlrepo.JobRepository, *gormadaptor.GormTransactionManager) {
	t.Helper()
	conn, err := gormadaptor.Open("metadata", config.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := sqlrepo.NewJobRepository(conn)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo, gormadaptor.NewGormTransactionManager(conn)
}

func newRun(t *testing.T, repo repository.JobRepository, jobName, date string) (*model.JobInstance, *model.JobExecution) {
	t.Helper()
	ctx := context.Background()
	params := model.NewJobParametersBuilder().AddString("date", date).ToJobParameters()
	ji := model.NewJobInstance(jobName, params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji, params)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return ji, je
}

func TestJobInstance_LookupByIdentifyingParameters(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	ji, _ := newRun(t, repo, "importJob", "2026-10-16")

	same := model.NewJobParametersBuilder().
		AddString("date", "2026-10-16").
		AddLong("run.id", 7, false).
		ToJobParameters()
	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", same)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)
	assert.True(t, found.Parameters.Equal(ji.Parameters))

	other := model.NewJobParametersBuilder().AddString("date", "2026-10-17").ToJobParameters()
	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", other)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	_, err = repo.FindJobInstanceByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	newRun(t, repo, "exportJob", "2026-10-16")
	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"exportJob", "importJob"}, names)
}

func TestJobInstance_UniqueJobNameAndIdentity(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	ji, _ := newRun(t, repo, "importJob", "2026-10-16")

	sameIdentity := model.NewJobParametersBuilder().
		AddString("date", "2026-10-16").
		AddLong("run.id", 3, false).
		ToJobParameters()
	err := repo.SaveJobInstance(ctx, model.NewJobInstance("importJob", sameIdentity))
	assert.ErrorIs(t, err, repository.ErrJobInstanceExists)

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "importJob", sameIdentity)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)

	newRun(t, repo, "exportJob", "2026-10-16")
}

func TestJobExecution_RoundTripWithSteps(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	ji, je := newRun(t, repo, "importJob", "2026-10-16")

	je.MarkAsStarted()
	je.ExecutionContext.Put("item.read.count", 12)
	je.CurrentStepName = "load"
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	first := model.NewStepExecution("load", je)
	require.NoError(t, repo.SaveStepExecution(ctx, first))
	second := model.NewStepExecution("report", je)
	require.NoError(t, repo.SaveStepExecution(ctx, second))

	first.MarkAsStarted()
	first.ReadCount, first.WriteCount, first.CommitCount = 10, 9, 2
	first.ProcessSkipCount = 1
	first.MarkAsCompleted()
	require.NoError(t, repo.UpdateStepExecution(ctx, first))

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusRunning, loaded.Status)
	assert.Equal(t, "load", loaded.CurrentStepName)
	assert.Equal(t, je.Version, loaded.Version)
	count, ok := loaded.ExecutionContext.GetInt("item.read.count")
	require.True(t, ok)
	assert.Equal(t, 12, count)

	require.Len(t, loaded.StepExecutions, 2)
	assert.Equal(t, "load", loaded.StepExecutions[0].StepName)
	assert.Equal(t, "report", loaded.StepExecutions[1].StepName)
	step := loaded.StepExecutions[0]
	assert.Equal(t, model.BatchStatusCompleted, step.Status)
	assert.Equal(t, 10, step.ReadCount)
	assert.Equal(t, 1, step.SkipCount())
	assert.NotNil(t, step.EndTime)
	assert.Same(t, loaded, step.JobExecution)

	restart := model.NewJobExecution(ji, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, restart))
	runs, err := repo.FindJobExecutionsByJobInstance(ctx, ji)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, restart.ID, runs[0].ID)
	assert.Equal(t, je.ID, runs[1].ID)

	latest, err := repo.FindLatestJobExecution(ctx, "importJob")
	require.NoError(t, err)
	assert.Equal(t, restart.ID, latest.ID)

	_, err = repo.FindLatestJobExecution(ctx, "unknownJob")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestUpdate_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	_, je := newRun(t, repo, "job", "2026-10-16")
	se := model.NewStepExecution("step1", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.ReadCount = 5
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	stale.ReadCount = 99
	err = repo.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 0, stale.Version)

	staleRun, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.True(t, exception.IsOptimisticLockingFailure(repo.UpdateJobExecution(ctx, staleRun)))

	ghost := model.NewStepExecution("ghost", je)
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, ghost), repository.ErrStepExecutionNotFound)
}

func TestCheckpointData_Upsert(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	ji, je := newRun(t, repo, "job", "2026-10-16")

	_, err := repo.FindCheckpointData(ctx, ji.ID, "step1")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	for _, pos := range []int{5, 10} {
		ec := model.NewExecutionContext()
		ec.Put("item.read.position", pos)
		require.NoError(t, repo.SaveCheckpointData(ctx, &model.CheckpointData{
			JobInstanceID:    ji.ID,
			StepName:         "step1",
			StepExecutionID:  je.ID,
			ExecutionContext: ec,
		}))
	}

	cp, err := repo.FindCheckpointData(ctx, ji.ID, "step1")
	require.NoError(t, err)
	pos, ok := cp.ExecutionContext.GetInt("item.read.position")
	require.True(t, ok)
	assert.Equal(t, 10, pos)
}

func TestWrites_JoinChunkTransaction(t *testing.T) {
	ctx := context.Background()
	repo, txm := newRepository(t)
	ji, je := newRun(t, repo, "job", "2026-10-16")
	se := model.NewStepExecution("step1", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	rolledBack, err := txm.Begin(ctx)
	require.NoError(t, err)
	se.CommitCount = 1
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, rolledBack), se))
	require.NoError(t, repo.SaveCheckpointData(tx.WithTx(ctx, rolledBack), &model.CheckpointData{
		JobInstanceID: ji.ID, StepName: "step1", StepExecutionID: se.ID, ExecutionContext: model.NewExecutionContext(),
	}))
	require.NoError(t, txm.Rollback(rolledBack))
	se.Version, se.CommitCount = 0, 0

	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CommitCount)
	_, err = repo.FindCheckpointData(ctx, ji.ID, "step1")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	committed, err := txm.Begin(ctx)
	require.NoError(t, err)
	se.CommitCount = 1
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, committed), se))
	require.NoError(t, txm.Commit(committed))

	stored, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CommitCount)
	assert.Equal(t, 1, stored.Version)
}

func TestWrites_DeferredUnderForeignTransaction(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)
	_, je := newRun(t, repo, "job", "2026-10-16")
	se := model.NewStepExecution("step1", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	txm := tx.NewResourcelessTransactionManager()
	t1, err := txm.Begin(ctx)
	require.NoError(t, err)
	se.WriteCount = 3
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t1), se))

	pending, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.WriteCount)

	require.NoError(t, txm.Commit(t1))
	applied, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, applied.WriteCount)
	assert.Equal(t, se.Version, applied.Version)

	t2, err := txm.Begin(ctx)
	require.NoError(t, err)
	se.WriteCount = 6
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t2), se))
	require.NoError(t, txm.Rollback(t2))
	dropped, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped.WriteCount)
}
