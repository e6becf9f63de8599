package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
)

type namedJob struct{ name string }

func (j *namedJob) JobName() string                                { return j.name }
func (j *namedJob) Run(context.Context, *model.JobExecution) error { return nil }

func TestJobRegistry(t *testing.T) {
	r, err := registry.NewJobRegistry(&namedJob{"b"}, &namedJob{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	replacement := &namedJob{"a"}
	require.NoError(t, r.Register(replacement))
	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, replacement, got)

	r.Unregister("b")
	_, err = r.Get("b")
	assert.ErrorIs(t, err, registry.ErrUnknownJob)

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&namedJob{}))
}

func TestModule_CollectsJobGroup(t *testing.T) {
	var r *registry.JobRegistry
	app := fxtest.New(t,
		registry.Module,
		fx.Provide(
			registry.AsJob(func() *namedJob { return &namedJob{"importJob"} }),
		),
		fx.Populate(&r),
	)
	app.RequireStart()
	defer app.RequireStop()

	job, err := r.Get("importJob")
	require.NoError(t, err)
	var _ port.Job = job
	assert.Equal(t, []string{"importJob"}, r.Names())
}
