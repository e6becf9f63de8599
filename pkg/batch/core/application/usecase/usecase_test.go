package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
)

type fixture struct {
	repo     *inmemory.JobRepository
	txm      *tx.ResourcelessTransactionManager
	jobs     *registry.JobRegistry
	launcher *usecase.SimpleJobLauncher
	operator *usecase.SimpleJobOperator
	explorer *usecase.SimpleJobExplorer
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	repo := inmemory.NewJobRepository()
	jobs, err := registry.NewJobRegistry()
	require.NoError(t, err)
	l := usecase.NewSimpleJobLauncher(repo, jobs, runner.NewSimpleJobRunner(repo), maxConcurrent)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return &fixture{
		repo:     repo,
		txm:      tx.NewResourcelessTransactionManager(),
		jobs:     jobs,
		launcher: l,
		operator: usecase.NewSimpleJobOperator(repo, l),
		explorer: usecase.NewSimpleJobExplorer(repo),
	}
}

func (f *fixture) taskletStep(name string, fn func(ctx context.Context) error) port.Step {
	return tasklet.NewStep(name, port.TaskletFunc(func(ctx context.Context, _ *port.StepContribution) (model.RepeatStatus, error) {
		return model.RepeatStatusFinished, fn(ctx)
	}), f.repo, f.txm)
}

func (f *fixture) register(t *testing.T, b *runner.JobBuilder) *runner.FlowJob {
	t.Helper()
	job, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, f.jobs.Register(job))
	return job
}

func (f *fixture) wait(t *testing.T, runID string) *model.JobExecution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	je, err := f.operator.Wait(ctx, runID)
	require.NoError(t, err)
	return je
}

func params(date string) model.JobParameters {
	return model.NewJobParametersBuilder().AddString("date", date).ToJobParameters()
}

func TestLaunch_UnknownJob(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.launcher.Launch(context.Background(), "missingJob", params("2026-10-16"))

	assert.ErrorIs(t, err, usecase.ErrUnknownJob)
}

func TestLaunch_RunsAndRejectsDuplicate(t *testing.T) {
	f := newFixture(t, 1)
	var runs atomic.Int32
	f.register(t, runner.NewJobBuilder("taskletJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { runs.Add(1); return nil })))

	runID, err := f.launcher.Launch(context.Background(), "taskletJob", params("2026-10-16"))
	require.NoError(t, err)
	je := f.wait(t, runID)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.EqualValues(t, 1, runs.Load())

	_, err = f.launcher.Launch(context.Background(), "taskletJob", params("2026-10-16"))
	assert.ErrorIs(t, err, usecase.ErrDuplicateRun)

	other, err := f.launcher.Launch(context.Background(), "taskletJob", params("2026-10-17"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, f.wait(t, other).Status)
}

func TestLaunch_RejectsConcurrentRunOfInstance(t *testing.T) {
	f := newFixture(t, 2)
	release := make(chan struct{})
	f.register(t, runner.NewJobBuilder("slowJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { <-release; return nil })))

	runID, err := f.launcher.Launch(context.Background(), "slowJob", params("2026-10-16"))
	require.NoError(t, err)

	_, err = f.launcher.Launch(context.Background(), "slowJob", params("2026-10-16"))
	assert.ErrorIs(t, err, usecase.ErrRunAlreadyRunning)

	close(release)
	assert.Equal(t, model.BatchStatusCompleted, f.wait(t, runID).Status)
}

// staleLookupRepository misses instances on its first lookups, as a process
// that read the store before another process created the instance would.
type staleLookupRepository struct {
	*inmemory.JobRepository
	misses atomic.Int32
}

func (r *staleLookupRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, name string, p model.JobParameters) (*model.JobInstance, error) {
	if r.misses.Add(-1) >= 0 {
		return nil, repository.ErrJobInstanceNotFound
	}
	return r.JobRepository.FindJobInstanceByJobNameAndParameters(ctx, name, p)
}

func TestLaunch_LosingInstanceRaceAcrossLaunchers(t *testing.T) {
	f := newFixture(t, 1)
	release := make(chan struct{})
	f.register(t, runner.NewJobBuilder("sharedJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { <-release; return nil })))

	stale := &staleLookupRepository{JobRepository: f.repo}
	other := usecase.NewSimpleJobLauncher(stale, f.jobs, runner.NewSimpleJobRunner(stale), 1)
	t.Cleanup(func() { _ = other.Shutdown(context.Background()) })

	t.Run("instance stored without a run yet", func(t *testing.T) {
		require.NoError(t, f.repo.SaveJobInstance(context.Background(), model.NewJobInstance("sharedJob", params("2026-10-15"))))
		stale.misses.Store(1)

		_, err := other.Launch(context.Background(), "sharedJob", params("2026-10-15"))
		assert.ErrorIs(t, err, usecase.ErrRunAlreadyRunning)
	})

	t.Run("instance with a running run", func(t *testing.T) {
		runID, err := f.launcher.Launch(context.Background(), "sharedJob", params("2026-10-16"))
		require.NoError(t, err)
		stale.misses.Store(1)

		_, err = other.Launch(context.Background(), "sharedJob", params("2026-10-16"))
		assert.ErrorIs(t, err, usecase.ErrRunAlreadyRunning)

		ji, err := f.repo.FindJobInstanceByJobNameAndParameters(context.Background(), "sharedJob", params("2026-10-16"))
		require.NoError(t, err)
		runs, err := f.repo.FindJobExecutionsByJobInstance(context.Background(), ji)
		require.NoError(t, err)
		assert.Len(t, runs, 1)

		close(release)
		assert.Equal(t, model.BatchStatusCompleted, f.wait(t, runID).Status)
	})
}

func TestLaunch_RestartsFailedInstance(t *testing.T) {
	f := newFixture(t, 1)
	var fail atomic.Bool
	fail.Store(true)
	f.register(t, runner.NewJobBuilder("flakyJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error {
			if fail.Load() {
				return errors.New("upstream unavailable")
			}
			return nil
		})))

	first, err := f.launcher.Launch(context.Background(), "flakyJob", params("2026-10-16"))
	require.NoError(t, err)
	failed := f.wait(t, first)
	require.Equal(t, model.BatchStatusFailed, failed.Status)

	fail.Store(false)
	second, err := f.launcher.Launch(context.Background(), "flakyJob", params("2026-10-16"))
	require.NoError(t, err)
	restarted := f.wait(t, second)

	assert.NotEqual(t, first, second)
	assert.Equal(t, failed.JobInstanceID, restarted.JobInstanceID)
	assert.Equal(t, 1, restarted.RestartCount)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)

	runs, err := f.explorer.GetJobExecutions(context.Background(), restarted.JobInstanceID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
}

func TestLaunch_PreventRestart(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, runner.NewJobBuilder("oneShotJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { return errors.New("boom") })).
		PreventRestart())

	first, err := f.launcher.Launch(context.Background(), "oneShotJob", params("2026-10-16"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, f.wait(t, first).Status)

	_, err = f.launcher.Launch(context.Background(), "oneShotJob", params("2026-10-16"))
	assert.ErrorIs(t, err, usecase.ErrNotRestartable)
}

func TestLaunch_IncrementerCreatesNewInstances(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, runner.NewJobBuilder("dailyJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { return nil })).
		Incrementer(incrementer.NewRunIDIncrementer("")))

	first, err := f.launcher.Launch(context.Background(), "dailyJob", model.NewJobParameters())
	require.NoError(t, err)
	f.wait(t, first)
	second, err := f.launcher.Launch(context.Background(), "dailyJob", model.NewJobParameters())
	require.NoError(t, err)
	je := f.wait(t, second)

	id, ok := je.Parameters.GetLong(incrementer.DefaultRunIDKey)
	require.True(t, ok)
	assert.EqualValues(t, 2, id)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
}

type rejectingValidator struct{}

func (rejectingValidator) ValidateParameters(p model.JobParameters) error {
	if _, ok := p.GetString("date"); !ok {
		return errors.New("missing 'date'")
	}
	return nil
}

func TestLaunch_ValidatesParameters(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, runner.NewJobBuilder("validatedJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { return nil })).
		Validator(rejectingValidator{}))

	_, err := f.launcher.Launch(context.Background(), "validatedJob", model.NewJobParameters())

	assert.ErrorIs(t, err, usecase.ErrInvalidParameters)
}

func TestLaunch_BoundsConcurrentRuns(t *testing.T) {
	f := newFixture(t, 1)
	release := make(chan struct{})
	var current, peak atomic.Int32
	f.register(t, runner.NewJobBuilder("boundedJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		})))

	var ids []string
	for _, d := range []string{"a", "b", "c"} {
		id, err := f.launcher.Launch(context.Background(), "boundedJob", params(d))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	close(release)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.wait(t, id)
		}(id)
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())
}

func TestOperator_StopRestartAbandon(t *testing.T) {
	f := newFixture(t, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	var step2Runs atomic.Int32
	var block atomic.Bool
	block.Store(true)
	f.register(t, runner.NewJobBuilder("stoppableJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error {
			if block.Load() {
				close(entered)
				<-release
			}
			return nil
		})).
		Next(f.taskletStep("step2", func(context.Context) error { step2Runs.Add(1); return nil })))

	runID, err := f.launcher.Launch(context.Background(), "stoppableJob", params("2026-10-16"))
	require.NoError(t, err)
	<-entered
	require.NoError(t, f.operator.Stop(context.Background(), runID))
	close(release)

	stopped := f.wait(t, runID)
	assert.Equal(t, model.BatchStatusStopped, stopped.Status)
	assert.EqualValues(t, 0, step2Runs.Load())
	assert.ErrorIs(t, f.operator.Stop(context.Background(), runID), usecase.ErrRunNotActive)

	block.Store(false)
	restartID, err := f.operator.Restart(context.Background(), runID)
	require.NoError(t, err)
	restarted := f.wait(t, restartID)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.EqualValues(t, 1, step2Runs.Load())

	_, err = f.operator.Restart(context.Background(), restartID)
	assert.ErrorIs(t, err, usecase.ErrNotRestartable)
}

func TestOperator_AbandonBlocksRelaunch(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, runner.NewJobBuilder("abandonJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { return errors.New("bad input") })))

	runID, err := f.launcher.Launch(context.Background(), "abandonJob", params("2026-10-16"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, f.wait(t, runID).Status)

	require.NoError(t, f.operator.Abandon(context.Background(), runID))
	je, err := f.explorer.GetJobExecution(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, je.Status)

	_, err = f.launcher.Launch(context.Background(), "abandonJob", params("2026-10-16"))
	assert.ErrorIs(t, err, usecase.ErrDuplicateRun)
}

func TestExplorer_LatestAndNames(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, runner.NewJobBuilder("reportJob", f.repo).
		Start(f.taskletStep("step1", func(context.Context) error { return nil })))

	first, err := f.launcher.Launch(context.Background(), "reportJob", params("2026-10-15"))
	require.NoError(t, err)
	f.wait(t, first)
	second, err := f.launcher.Launch(context.Background(), "reportJob", params("2026-10-16"))
	require.NoError(t, err)
	f.wait(t, second)

	latest, err := f.explorer.FindLatestJobExecution(context.Background(), "reportJob")
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)

	steps, err := f.explorer.GetStepExecutions(context.Background(), second)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "step1", steps[0].StepName)

	names, err := f.explorer.GetJobNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"reportJob"}, names)
}
