// Package runner executes jobs: FlowJob walks the transition graph of a job
// and SimpleJobRunner drives a Job through one JobExecution.
package runner

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ErrNoTransition is returned when a step ends with an exit status no edge of the flow accepts.
var ErrNoTransition = errors.New("no transition defined")

func init() {
	exception.RegisterErrorType("ErrNoTransition", ErrNoTransition)
}

// FlowJob is a port.Job whose steps are connected by exit-status transitions.
type FlowJob struct {
	name        string
	flow        *model.FlowDefinition
	steps       map[string]port.Step
	repo        repository.JobRepository
	listeners   *listener.Registry
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
	incrementer port.JobParametersIncrementer
	validator   port.JobParametersValidator
	restartable bool
}

var (
	_ port.Job                    = (*FlowJob)(nil)
	_ port.IncrementerAware       = (*FlowJob)(nil)
	_ port.JobParametersValidator = (*FlowJob)(nil)
)

// JobName returns the job name.
func (j *FlowJob) JobName() string {
	return j.name
}

// Flow returns the transition graph.
func (j *FlowJob) Flow() *model.FlowDefinition {
	return j.flow
}

// Step returns the step registered under name.
func (j *FlowJob) Step(name string) (port.Step, bool) {
	s, ok := j.steps[name]
	return s, ok
}

// Incrementer returns the parameters incrementer of the job, if any.
func (j *FlowJob) Incrementer() port.JobParametersIncrementer {
	return j.incrementer
}

// Restartable reports whether a FAILED or STOPPED run of the job may be restarted.
func (j *FlowJob) Restartable() bool {
	return j.restartable
}

// ValidateParameters runs the configured validator.
func (j *FlowJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': validating parameters %s", j.name, params.String())
	if j.validator == nil {
		return nil
	}
	return j.validator.ValidateParameters(params)
}

// Run executes the flow from its start step and leaves the final status on jobExecution.
// The returned error is the failure that ended the job, or nil if it did not fail.
func (j *FlowJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	ctx = port.WithJobExecution(ctx, jobExecution)
	ctx, endSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()

	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, jobExecution.ID)
	if jobExecution.Status != model.BatchStatusRunning {
		jobExecution.MarkAsStarted()
	}
	j.recorder.RecordJobStart(ctx, jobExecution)
	if err := j.repo.UpdateJobExecution(ctx, jobExecution); err != nil {
		err = exception.NewBatchError(j.name, "failed to update JobExecution status to STARTED", err, false, false)
		jobExecution.MarkAsFailed(err)
		j.recorder.RecordJobEnd(ctx, jobExecution)
		return err
	}

	var runErr error
	if err := j.listeners.BeforeJob(ctx, jobExecution); err != nil {
		logger.Errorf("Job '%s': BeforeJob listener failed: %v", j.name, err)
		runErr = err
		jobExecution.MarkAsFailed(err)
	} else {
		runErr = j.walk(ctx, jobExecution)
	}

	if err := j.listeners.AfterJob(ctx, jobExecution); err != nil {
		logger.Errorf("Job '%s': AfterJob listener failed: %v", j.name, err)
		jobExecution.Status = model.BatchStatusFailed
		jobExecution.ExitStatus = model.ExitStatusFailed
		jobExecution.AddFailure(err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		j.tracer.RecordError(ctx, "job", runErr)
	}

	if err := j.repo.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("Job '%s': failed to update final JobExecution state: %v", j.name, err)
		if runErr == nil {
			runErr = err
		}
	}
	j.recorder.RecordJobEnd(ctx, jobExecution)

	logger.Infof("Job '%s' (Execution ID: %s) finished. Status: %s, ExitStatus: %s",
		j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	for _, se := range jobExecution.StepExecutions {
		logger.Debugf("  %s", se)
	}
	return runErr
}

// walk runs steps along the resolved path until the flow ends.
func (j *FlowJob) walk(ctx context.Context, je *model.JobExecution) error {
	current := j.flow.StartStep
	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Job '%s' interrupted: %v", j.name, err)
			je.AddFailure(err)
			je.MarkAsStopped()
			return err
		}
		if je.IsStopRequested() {
			logger.Infof("Job '%s': stop requested before step '%s'.", j.name, current)
			je.MarkAsStopped()
			return nil
		}

		step, ok := j.steps[current]
		if !ok {
			err := exception.NewBatchErrorf(j.name, "step '%s' is not defined", current)
			je.MarkAsFailed(err)
			return err
		}

		se, stepErr := j.runStep(ctx, je, step)
		if se == nil {
			je.MarkAsFailed(stepErr)
			return stepErr
		}
		if stepErr != nil {
			je.AddFailure(stepErr)
		}

		if se.Status == model.BatchStatusStopped {
			je.MarkAsStopped()
			return nil
		}

		t, found := j.flow.Resolve(current, se.ExitStatus)
		if !found {
			if !j.flow.HasOutgoing(current) {
				return j.finish(je, se, stepErr)
			}
			err := fmt.Errorf("%w for step '%s' with exit status '%s'", ErrNoTransition, current, se.ExitStatus)
			logger.Errorf("Job '%s': %v", j.name, err)
			je.MarkAsFailed(err)
			return err
		}
		logger.Debugf("Job '%s': following %s", j.name, t)

		switch {
		case t.Fail:
			err := stepErr
			if err == nil {
				err = exception.NewBatchErrorf(j.name, "job failed by transition %s", t)
			}
			je.MarkAsFailed(err)
			return err
		case t.Stop:
			je.MarkAsStopped()
			return nil
		case t.End:
			je.MarkAsCompleted(se.ExitStatus)
			return nil
		}
		current = t.To
	}
}

// finish ends the job with the outcome of its last step.
func (j *FlowJob) finish(je *model.JobExecution, last *model.StepExecution, stepErr error) error {
	if last.Status == model.BatchStatusFailed {
		err := stepErr
		if err == nil {
			err = exception.NewBatchErrorf(j.name, "step '%s' failed", last.StepName)
		}
		je.MarkAsFailed(err)
		je.ExitStatus = last.ExitStatus
		return err
	}
	je.MarkAsCompleted(last.ExitStatus)
	return nil
}

// runStep prepares the StepExecution of step and executes it, unless a previous
// run of the same job instance already completed it.
func (j *FlowJob) runStep(ctx context.Context, je *model.JobExecution, step port.Step) (*model.StepExecution, error) {
	name := step.StepName()
	je.CurrentStepName = name

	var se *model.StepExecution
	if je.FindStepExecution(name) == nil {
		prev, err := j.previousStepExecution(ctx, je, name)
		if err != nil {
			return nil, exception.NewBatchError(j.name, "failed to load previous step executions", err, false, false)
		}
		if prev != nil {
			se = prev.CopyForRestart(je)
		}
	}
	if se == nil {
		se = model.NewStepExecution(name, je)
	}
	if err := j.repo.SaveStepExecution(ctx, se); err != nil {
		return nil, exception.NewBatchError(j.name, fmt.Sprintf("failed to save StepExecution of step '%s'", name), err, false, false)
	}
	if err := j.repo.UpdateJobExecution(ctx, je); err != nil {
		logger.Warnf("Job '%s': failed to record current step '%s': %v", j.name, name, err)
	}

	if se.Status == model.BatchStatusCompleted {
		logger.Infof("Job '%s': step '%s' already completed in a previous run. Skipping.", j.name, name)
		return se, nil
	}

	err := step.Execute(ctx, je, se)
	if err != nil && se.Status != model.BatchStatusFailed {
		se.MarkAsFailed(err)
	}
	if err != nil {
		logger.Errorf("Job '%s': step '%s' failed: %v", j.name, name, err)
	} else {
		logger.Infof("Job '%s': step '%s' ended with %s.", j.name, name, se.ExitStatus)
	}
	return se, err
}

// previousStepExecution returns the latest execution of stepName in an earlier
// run of the same job instance.
func (j *FlowJob) previousStepExecution(ctx context.Context, je *model.JobExecution, stepName string) (*model.StepExecution, error) {
	if je.JobInstanceID == "" {
		return nil, nil
	}
	runs, err := j.repo.FindJobExecutionsByJobInstance(ctx, &model.JobInstance{ID: je.JobInstanceID})
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.ID == je.ID {
			continue
		}
		if se := run.FindStepExecution(stepName); se != nil {
			return se, nil
		}
	}
	return nil, nil
}
