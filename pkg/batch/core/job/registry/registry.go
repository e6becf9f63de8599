// Package registry keeps the jobs known to the launcher, by name.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ErrUnknownJob is returned when no job is registered under a name.
var ErrUnknownJob = errors.New("unknown job")

func init() {
	exception.RegisterErrorType("ErrUnknownJob", ErrUnknownJob)
}

// JobRegistry maps job names to jobs. It is safe for concurrent use.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// NewJobRegistry creates a JobRegistry holding jobs.
func NewJobRegistry(jobs ...port.Job) (*JobRegistry, error) {
	r := &JobRegistry{jobs: make(map[string]port.Job, len(jobs))}
	for _, j := range jobs {
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds job. A job registered under the same name is replaced.
func (r *JobRegistry) Register(job port.Job) error {
	if job == nil {
		return fmt.Errorf("cannot register a nil job")
	}
	name := job.JobName()
	if name == "" {
		return fmt.Errorf("cannot register job %T without a name", job)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		logger.Warnf("JobRegistry: replacing job '%s'.", name)
	}
	r.jobs[name] = job
	logger.Debugf("JobRegistry: registered job '%s'.", name)
	return nil
}

// Unregister removes the job registered under name, if any.
func (r *JobRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, name)
}

// Get returns the job registered under name, or an error wrapping ErrUnknownJob.
func (r *JobRegistry) Get(name string) (port.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownJob, name)
	}
	return job, nil
}

// Names returns the registered job names, sorted.
func (r *JobRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params collects the jobs contributed to the "jobs" value group.
type Params struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// NewJobRegistryFromGroup builds the registry from the "jobs" value group.
func NewJobRegistryFromGroup(p Params) (*JobRegistry, error) {
	return NewJobRegistry(p.Jobs...)
}

// AsJob annotates a job constructor so that its result joins the "jobs" group.
func AsJob(constructor any) any {
	return fx.Annotate(constructor, fx.As(new(port.Job)), fx.ResultTags(`group:"jobs"`))
}

// Module provides the JobRegistry.
var Module = fx.Options(
	fx.Provide(NewJobRegistryFromGroup),
)
