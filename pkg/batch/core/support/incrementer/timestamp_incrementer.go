package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// DefaultTimestampKey is the parameter key used by TimestampIncrementer when none is given.
const DefaultTimestampKey = "run.timestamp"

// TimestampIncrementer sets an identifying DATE parameter to the current time.
type TimestampIncrementer struct {
	key string
	now func() time.Time
}

var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)

// NewTimestampIncrementer creates a TimestampIncrementer for key, or DefaultTimestampKey if key is empty.
func NewTimestampIncrementer(key string) *TimestampIncrementer {
	if key == "" {
		key = DefaultTimestampKey
	}
	return &TimestampIncrementer{key: key, now: time.Now}
}

// GetNext returns params with the timestamp replaced.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	return params.With(model.JobParameter{Key: i.key, Type: model.ParameterTypeDate, Value: i.now().UTC(), Identifying: true})
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[key=%s]", i.key)
}
