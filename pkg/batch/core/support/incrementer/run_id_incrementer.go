// Package incrementer provides JobParametersIncrementer implementations that
// derive the parameters of a job's next instance.
package incrementer

import (
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultRunIDKey is the parameter key used by RunIDIncrementer when none is given.
const DefaultRunIDKey = "run.id"

// RunIDIncrementer adds or increments an identifying LONG parameter.
// It sets the key to 1 if it does not exist.
type RunIDIncrementer struct {
	key string
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)

// NewRunIDIncrementer creates a RunIDIncrementer for key, or DefaultRunIDKey if key is empty.
func NewRunIDIncrementer(key string) *RunIDIncrementer {
	if key == "" {
		key = DefaultRunIDKey
	}
	return &RunIDIncrementer{key: key}
}

// GetNext returns params with the run id incremented.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := int64(1)
	if current, ok := params.GetLong(i.key); ok {
		next = current + 1
	}
	logger.Debugf("RunIDIncrementer: setting '%s' to %d.", i.key, next)
	return params.With(model.JobParameter{Key: i.key, Type: model.ParameterTypeLong, Value: next, Identifying: true})
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[key=%s]", i.key)
}
