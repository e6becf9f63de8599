package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// activeRun is a run accepted by this launcher that has not ended yet.
type activeRun struct {
	execution *model.JobExecution
	cancel    context.CancelFunc
	done      chan struct{}
}

// SimpleJobLauncher runs jobs on goroutines of the current process. At most
// maxConcurrentRuns runs execute at once; further runs wait for a free slot.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	jobRegistry   *registry.JobRegistry
	jobRunner     port.JobRunner
	slots         *semaphore.Weighted

	// launchMu serializes the duplicate-run checks of concurrent launches.
	launchMu sync.Mutex

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a SimpleJobLauncher. A maxConcurrentRuns below 1 means 1.
func NewSimpleJobLauncher(
	repo repository.JobRepository,
	jobs *registry.JobRegistry,
	runner port.JobRunner,
	maxConcurrentRuns int,
) *SimpleJobLauncher {
	if maxConcurrentRuns < 1 {
		maxConcurrentRuns = 1
	}
	return &SimpleJobLauncher{
		jobRepository: repo,
		jobRegistry:   jobs,
		jobRunner:     runner,
		slots:         semaphore.NewWeighted(int64(maxConcurrentRuns)),
		active:        make(map[string]*activeRun),
	}
}

// Launch implements JobLauncher.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (string, error) {
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())
	job, err := l.jobRegistry.Get(jobName)
	if err != nil {
		logger.Errorf("JobLauncher: %v", err)
		return "", err
	}
	return l.launch(ctx, job, params, true)
}

func (l *SimpleJobLauncher) launch(ctx context.Context, job port.Job, params model.JobParameters, increment bool) (string, error) {
	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	if increment {
		next, err := l.nextParameters(ctx, job, params)
		if err != nil {
			return "", err
		}
		params = next
	}
	if v, ok := job.(port.JobParametersValidator); ok {
		if err := v.ValidateParameters(params); err != nil {
			logger.Errorf("Job '%s': JobParameters validation failed: %v", job.JobName(), err)
			return "", fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
	}

	je, err := l.prepareExecution(ctx, job, params)
	if err != nil {
		return "", err
	}
	if err := je.TransitionTo(model.BatchStatusStarting); err != nil {
		return "", exception.NewBatchError("job_launcher", "cannot start JobExecution", err, false, false)
	}
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return "", exception.NewBatchError("job_launcher", "failed to save JobExecution initially", err, false, false)
	}
	l.start(ctx, job, je)
	return je.ID, nil
}

// nextParameters applies the job's incrementer, if any, to the parameters of
// the job's latest run and lays the requested parameters over the result.
func (l *SimpleJobLauncher) nextParameters(ctx context.Context, job port.Job, params model.JobParameters) (model.JobParameters, error) {
	ia, ok := job.(port.IncrementerAware)
	if !ok || ia.Incrementer() == nil {
		return params, nil
	}
	last := model.NewJobParameters()
	latest, err := l.jobRepository.FindLatestJobExecution(ctx, job.JobName())
	switch {
	case errors.Is(err, repository.ErrJobExecutionNotFound):
	case err != nil:
		return params, exception.NewBatchError("job_launcher", "failed to load the latest JobExecution", err, false, false)
	default:
		last = latest.Parameters
	}
	next := ia.Incrementer().GetNext(last)
	for _, p := range params.Parameters() {
		next = next.With(p)
	}
	logger.Infof("Job '%s': parameters after increment: %s", job.JobName(), next.String())
	return next, nil
}

// prepareExecution finds or creates the instance for params and returns the
// JobExecution to run, rejecting duplicate and concurrent runs.
func (l *SimpleJobLauncher) prepareExecution(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	name := job.JobName()
	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, name, params)
	raced := false
	if errors.Is(err, repository.ErrJobInstanceNotFound) {
		instance = model.NewJobInstance(name, params)
		err = l.jobRepository.SaveJobInstance(ctx, instance)
		if err == nil {
			logger.Infof("Created JobInstance (ID: %s) for Job '%s'.", instance.ID, name)
			return model.NewJobExecution(instance, params), nil
		}
		if !errors.Is(err, repository.ErrJobInstanceExists) {
			return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("failed to save new JobInstance for '%s'", name), err, false, false)
		}
		// Another launcher stored the instance first.
		logger.Warnf("JobLauncher: %v", err)
		raced = true
		instance, err = l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, name, params)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", "failed to search for an existing JobInstance", err, false, false)
	}

	runs, err := l.jobRepository.FindJobExecutionsByJobInstance(ctx, instance)
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", "failed to load the runs of the JobInstance", err, false, false)
	}
	for _, run := range runs {
		switch {
		case !run.Status.IsTerminal():
			return nil, fmt.Errorf("%w: JobExecution (ID: %s, Status: %s) of Job '%s'", ErrRunAlreadyRunning, run.ID, run.Status, name)
		case run.Status == model.BatchStatusCompleted || run.Status == model.BatchStatusAbandoned:
			return nil, fmt.Errorf("%w: JobInstance (ID: %s) of Job '%s' has a %s run (ID: %s)", ErrDuplicateRun, instance.ID, name, run.Status, run.ID)
		}
	}
	if len(runs) == 0 {
		if raced {
			return nil, fmt.Errorf("%w: JobInstance (ID: %s) of Job '%s' is being launched elsewhere", ErrRunAlreadyRunning, instance.ID, name)
		}
		return model.NewJobExecution(instance, params), nil
	}

	latest := runs[0]
	if r, ok := job.(interface{ Restartable() bool }); ok && !r.Restartable() {
		return nil, fmt.Errorf("%w: Job '%s' does not allow restarts", ErrNotRestartable, name)
	}
	je := model.NewJobExecution(instance, params)
	je.ExecutionContext = latest.ExecutionContext.Copy()
	je.RestartCount = latest.RestartCount + 1
	logger.Infof("Restarting Job '%s' after %s run (ID: %s). Restart count: %d", name, latest.Status, latest.ID, je.RestartCount)
	return je, nil
}

// start runs je on its own goroutine once a slot is free.
func (l *SimpleJobLauncher) start(ctx context.Context, job port.Job, je *model.JobExecution) {
	// The run outlives the launch request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &activeRun{execution: je, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.active[je.ID] = run
	l.mu.Unlock()
	l.wg.Add(1)

	logger.Infof("Accepted Job '%s' (Execution ID: %s, Job Instance ID: %s).", job.JobName(), je.ID, je.JobInstanceID)
	go func() {
		defer l.wg.Done()
		defer l.finish(je.ID)
		defer cancel()

		if err := l.slots.Acquire(runCtx, 1); err != nil {
			logger.Warnf("Job '%s' (Execution ID: %s) cancelled before it started: %v", job.JobName(), je.ID, err)
			je.MarkAsStopped()
			je.AddFailure(err)
			if uerr := l.jobRepository.UpdateJobExecution(context.WithoutCancel(runCtx), je); uerr != nil {
				logger.Errorf("JobLauncher: failed to update JobExecution (ID: %s): %v", je.ID, uerr)
			}
			return
		}
		defer l.slots.Release(1)
		l.jobRunner.Run(runCtx, job, je)
	}()
}

func (l *SimpleJobLauncher) finish(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if run, ok := l.active[runID]; ok {
		close(run.done)
		delete(l.active, runID)
	}
}

func (l *SimpleJobLauncher) lookup(runID string) (*activeRun, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.active[runID]
	return run, ok
}

// ActiveRuns returns the identifiers of runs that have not ended yet.
func (l *SimpleJobLauncher) ActiveRuns() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown asks every active run to stop and waits for them. When ctx ends
// first, the remaining runs are cancelled.
func (l *SimpleJobLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	for _, run := range l.active {
		run.execution.RequestStop()
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for _, run := range l.active {
			run.cancel()
		}
		l.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
