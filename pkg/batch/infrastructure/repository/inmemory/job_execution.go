package inmemory

import (
	"context"
	"fmt"
	"sort"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// SaveJobExecution stores a new JobExecution.
func (r *JobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[execution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", execution.ID)
	}
	r.jobExecutions[execution.ID] = copyJobExecution(execution)
	r.nextSeq(execution.ID)
	return nil
}

// UpdateJobExecution stores the current state of execution. It fails with an
// optimistic locking failure when the stored Version differs from execution's.
func (r *JobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobExecutions[execution.ID]
	if !ok {
		return repository.ErrJobExecutionNotFound
	}
	w := r.stage(ctx)
	if w != nil {
		if pending, ok := w.jobExecutions[execution.ID]; ok {
			stored = pending
		}
	}
	if stored.Version != execution.Version {
		return optimisticLockFailure("JobExecution", execution.ID, execution.Version, stored.Version)
	}
	execution.Version++
	c := copyJobExecution(execution)
	if w != nil {
		w.jobExecutions[execution.ID] = c
		return nil
	}
	r.jobExecutions[execution.ID] = c
	return nil
}

// FindJobExecutionByID returns the run with its step executions attached.
func (r *JobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[executionID]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(je), nil
}

// FindLatestJobExecution returns the most recently created run of jobName.
func (r *JobRepository) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobName != jobName {
			continue
		}
		if latest == nil || r.order[je.ID] > r.order[latest.ID] {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(latest), nil
}

// FindJobExecutionsByJobInstance returns all runs of instance, newest first.
func (r *JobRepository) FindJobExecutionsByJobInstance(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var executions []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == instance.ID {
			executions = append(executions, je)
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return r.order[executions[i].ID] > r.order[executions[j].ID]
	})
	out := make([]*model.JobExecution, len(executions))
	for i, je := range executions {
		out[i] = r.withSteps(je)
	}
	return out, nil
}

// withSteps copies je and attaches copies of its step executions. Caller holds r.mu.
func (r *JobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	c := copyJobExecution(je)
	for _, se := range r.stepsOf(je.ID) {
		c.AddStepExecution(copyStepExecution(se))
	}
	return c
}

// stepsOf returns the stored step executions of a run in creation order. Caller holds r.mu.
func (r *JobRepository) stepsOf(jobExecutionID string) []*model.StepExecution {
	var steps []*model.StepExecution
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, se)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return r.order[steps[i].ID] < r.order[steps[j].ID]
	})
	return steps
}
