package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// SaveCheckpointData implements repository.CheckpointDataRepository.
func (r *JobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	const op = "SQLJobRepository.SaveCheckpointData"
	entity := fromDomainCheckpointData(data)
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_instance_id"}, {Name: "step_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"step_execution_id", "execution_context", "last_updated"}),
		}).Create(entity).Error
	})
	if err != nil {
		return writeError(op, fmt.Sprintf("failed to save checkpoint of step '%s'", data.StepName), err)
	}
	return nil
}

// FindCheckpointData implements repository.CheckpointDataRepository.
func (r *JobRepository) FindCheckpointData(ctx context.Context, jobInstanceID, stepName string) (*model.CheckpointData, error) {
	const op = "SQLJobRepository.FindCheckpointData"
	var entity CheckpointDataEntity
	err := r.read(ctx).
		Where("job_instance_id = ? AND step_name = ?", jobInstanceID, stepName).
		Take(&entity).Error
	if err != nil {
		return nil, queryError(op, "CheckpointData", err)
	}
	return toDomainCheckpointData(&entity), nil
}
