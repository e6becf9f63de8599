// Package repository defines the state store contract of the batch engine.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ErrCheckpointDataNotFound is returned when no checkpoint exists for a step.
var ErrCheckpointDataNotFound = errors.New("checkpoint data not found")

func init() {
	exception.RegisterErrorType("ErrCheckpointDataNotFound", ErrCheckpointDataNotFound)
}

// CheckpointDataRepository stores the last committed progress of each step.
type CheckpointDataRepository interface {
	// SaveCheckpointData upserts the checkpoint for (JobInstanceID, StepName).
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error
	// FindCheckpointData returns ErrCheckpointDataNotFound when nothing was committed yet.
	FindCheckpointData(ctx context.Context, jobInstanceID, stepName string) (*model.CheckpointData, error)
}

// JobRepository persists job, step and execution-context records keyed by run identifier.
// Writes take part in the transaction carried by the context, if any.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	CheckpointDataRepository

	// Close releases resources held by the repository.
	Close() error
}
