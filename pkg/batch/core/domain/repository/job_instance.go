package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ErrJobInstanceNotFound is returned when a JobInstance is not found.
var ErrJobInstanceNotFound = errors.New("job instance not found")

// ErrJobInstanceExists is returned when an instance with the same job name and
// parameter identity is already stored.
var ErrJobInstanceExists = errors.New("job instance already exists")

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobInstanceExists", ErrJobInstanceExists)
}

// JobInstance stores job instances.
type JobInstance interface {
	// SaveJobInstance returns ErrJobInstanceExists when the job name and
	// parameter identity are taken.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error
	FindJobInstanceByID(ctx context.Context, instanceID string) (*model.JobInstance, error)
	// FindJobInstanceByJobNameAndParameters matches on the identity of params.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
}
