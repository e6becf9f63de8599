package inmemory

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

func checkpointKey(jobInstanceID, stepName string) string {
	return jobInstanceID + "\x00" + stepName
}

// SaveCheckpointData upserts the checkpoint of (JobInstanceID, StepName).
func (r *JobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := checkpointKey(data.JobInstanceID, data.StepName)
	if w := r.stage(ctx); w != nil {
		w.checkpointData[key] = copyCheckpointData(data)
		return nil
	}
	r.checkpointData[key] = copyCheckpointData(data)
	return nil
}

// FindCheckpointData returns the last committed checkpoint of a step.
func (r *JobRepository) FindCheckpointData(ctx context.Context, jobInstanceID, stepName string) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, ok := r.checkpointData[checkpointKey(jobInstanceID, stepName)]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return copyCheckpointData(cp), nil
}
