// Package samplejobs contains the jobs shipped with the chunkbatch command.
// They exercise the engine end to end: fault tolerance on in-memory items,
// conditional flows, and table copies, updates and exports on a database.
package samplejobs

import (
	"go.uber.org/fx"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	chunkstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
)

// AppDatabase names the connection the data jobs use. When the configuration
// has no such entry they fall back to the job repository connection.
const AppDatabase = "app"

// ExportStorage names the storage exportJob writes to.
const ExportStorage = "local"

// Deps are the collaborators shared by every sample job.
type Deps struct {
	fx.In
	Config     *config.Config
	Repository repository.JobRepository
	TxManager  tx.TransactionManager
	Databases  *gormadaptor.Provider  `optional:"true"`
	Storage    *storage.Provider      `optional:"true"`
	Listeners  listener.Global        `optional:"true"`
	Recorder   metrics.MetricRecorder `optional:"true"`
	Tracer     metrics.Tracer         `optional:"true"`
}

// newJob starts a builder carrying the global listeners and observability.
// Every launch gets the next run.id, so launching twice starts a new instance;
// failed runs are resumed with an explicit restart.
func (d Deps) newJob(name string) *runner.JobBuilder {
	b := runner.NewJobBuilder(name, d.Repository).
		Incrementer(incrementer.NewRunIDIncrementer(incrementer.DefaultRunIDKey)).
		Recorder(d.Recorder).
		Tracer(d.Tracer)
	if d.Listeners.Registry != nil {
		b.Listener(d.Listeners.Registry)
	}
	return b
}

// chunkOptions applies the configured batch defaults, then opts.
func (d Deps) chunkOptions(opts ...chunkstep.Option) ([]chunkstep.Option, error) {
	out, err := chunkstep.OptionsFromConfig(d.Config.ChunkBatch.Batch)
	if err != nil {
		return nil, err
	}
	out = append(out, chunkstep.WithMetricRecorder(d.Recorder), chunkstep.WithTracer(d.Tracer))
	if d.Listeners.Registry != nil {
		out = append(out, chunkstep.WithListeners(d.Listeners.Registry))
	}
	return append(out, opts...), nil
}

func (d Deps) taskletOptions(opts ...tasklet.Option) []tasklet.Option {
	out := []tasklet.Option{tasklet.WithMetricRecorder(d.Recorder), tasklet.WithTracer(d.Tracer)}
	if d.Listeners.Registry != nil {
		out = append(out, tasklet.WithListeners(d.Listeners.Registry))
	}
	return append(out, opts...)
}

// Module registers every sample job.
var Module = fx.Options(
	fx.Provide(
		registry.AsJob(NewSkipReaderJob),
		registry.AsJob(NewSkipProcessorJob),
		registry.AsJob(NewSkipWriterJob),
		registry.AsJob(NewRetryJob),
		registry.AsJob(NewConditionalJob),
		registry.AsJob(NewTaskletJob),
		registry.AsJob(NewFirstJob),
		registry.AsJob(NewSecondJob),
		registry.AsJob(NewCursorJob),
		registry.AsJob(NewPagingJob),
		registry.AsJob(NewExportJob),
	),
)
