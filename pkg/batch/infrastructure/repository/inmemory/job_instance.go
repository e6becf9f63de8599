package inmemory

import (
	"context"
	"fmt"
	"sort"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// SaveJobInstance stores a new JobInstance.
func (r *JobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[instance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s already exists", instance.ID)
	}
	if instance.ParametersHash == "" {
		instance.ParametersHash = instance.Parameters.Identity()
	}
	for _, ji := range r.jobInstances {
		if ji.JobName == instance.JobName && ji.ParametersHash == instance.ParametersHash {
			return fmt.Errorf("%w: JobInstance (ID: %s) of Job '%s'", repository.ErrJobInstanceExists, ji.ID, ji.JobName)
		}
	}
	r.jobInstances[instance.ID] = copyJobInstance(instance)
	r.nextSeq(instance.ID)
	return nil
}

// FindJobInstanceByID returns the JobInstance with the given ID.
func (r *JobRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[instanceID]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return copyJobInstance(ji), nil
}

// FindJobInstanceByJobNameAndParameters returns the instance of jobName whose
// identifying parameters equal those of params.
func (r *JobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity := params.Identity()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == identity {
			return copyJobInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// GetJobNames returns the distinct names of all stored instances, sorted.
func (r *JobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, ji := range r.jobInstances {
		if _, ok := seen[ji.JobName]; ok {
			continue
		}
		seen[ji.JobName] = struct{}{}
		names = append(names, ji.JobName)
	}
	sort.Strings(names)
	return names, nil
}
