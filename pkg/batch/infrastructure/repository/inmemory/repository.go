// Package inmemory provides a JobRepository that keeps all records in memory.
// It is used for tests and for jobs that do not need to survive the process.
//
// Records are stored as copies. Writes made with a transaction in the context
// become visible only when that transaction commits.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// JobRepository is an in-memory repository.JobRepository.
type JobRepository struct {
	mu             sync.RWMutex
	seq            int64
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData
	order          map[string]int64

	staged map[tx.Tx]*stagedWrites
}

var _ repository.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates an empty JobRepository.
func NewJobRepository() *JobRepository {
	return &JobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
		order:          make(map[string]int64),
		staged:         make(map[tx.Tx]*stagedWrites),
	}
}

// Close does nothing.
func (r *JobRepository) Close() error {
	return nil
}

// stagedWrites are the writes of one transaction that has not completed yet.
type stagedWrites struct {
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData
	jobExecutions  map[string]*model.JobExecution
}

// stage returns the pending writes of the transaction in ctx, or nil when
// ctx carries none. Caller holds r.mu.
func (r *JobRepository) stage(ctx context.Context) *stagedWrites {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return nil
	}
	if w, ok := r.staged[t]; ok {
		return w
	}
	w := &stagedWrites{
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
		jobExecutions:  make(map[string]*model.JobExecution),
	}
	r.staged[t] = w
	t.AfterCompletion(func(committed bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.staged, t)
		if !committed {
			return
		}
		for id, se := range w.stepExecutions {
			r.stepExecutions[id] = se
		}
		for key, cp := range w.checkpointData {
			r.checkpointData[key] = cp
		}
		for id, je := range w.jobExecutions {
			r.jobExecutions[id] = je
		}
	})
	return w
}

func (r *JobRepository) nextSeq(id string) {
	r.seq++
	r.order[id] = r.seq
}

func optimisticLockFailure(kind, id string, expected, actual int) error {
	return exception.NewOptimisticLockingFailureException("repository",
		fmt.Sprintf("%s %s was updated concurrently", kind, id),
		fmt.Errorf("version mismatch: expected %d, found %d", expected, actual))
}
