package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/internal/samplejobs"
	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/mysql"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/postgres"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage/gcs"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage/local"
	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	inframetrics "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Options are the global flags of the command.
type Options struct {
	// ConfigFile replaces the embedded configuration when set.
	ConfigFile string
	// EnvFile is loaded into the environment before the configuration is expanded.
	EnvFile string
	// LogLevel overrides chunkbatch.system.logging.level.
	LogLevel string
	// Embedded is the configuration built into the binary.
	Embedded config.EmbeddedConfig
	// Jobs registers the jobs of the application. Defaults to the sample jobs.
	Jobs fx.Option
}

func (o *Options) configBytes() (config.EmbeddedConfig, error) {
	if o.ConfigFile == "" {
		return o.Embedded, nil
	}
	data, err := os.ReadFile(o.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return data, nil
}

// appOptions assembles the application: configuration, job repository,
// connections, observability, listeners and the jobs.
func (o *Options) appOptions() ([]fx.Option, error) {
	data, err := o.configBytes()
	if err != nil {
		return nil, err
	}
	jobs := o.Jobs
	if jobs == nil {
		jobs = samplejobs.Module
	}
	level := o.LogLevel
	return []fx.Option{
		fx.Supply(
			data,
			fx.Annotate(o.EnvFile, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		fx.Decorate(func(cfg *config.Config) *config.Config {
			if level != "" {
				cfg.ChunkBatch.System.Logging.Level = level
				logger.SetLogLevel(level)
			}
			return cfg
		}),
		gormadaptor.Module,
		fx.Provide(newJobStore),
		storage.Module,
		metrics.Module,
		inframetrics.Module,
		listener.Module,
		registry.Module,
		runner.Module,
		usecase.Module,
		jobs,
	}, nil
}

type storeParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Provider  *gormadaptor.Provider
}

type storeResult struct {
	fx.Out
	Repository         repository.JobRepository
	TransactionManager tx.TransactionManager
}

// newJobStore selects the job repository named by job_repository_type.
func newJobStore(p storeParams) (storeResult, error) {
	switch typ := p.Config.ChunkBatch.Infrastructure.JobRepositoryType; typ {
	case "inmemory":
		logger.Warnf("Using the in-memory job repository; batch metadata is lost when the process exits.")
		return storeResult{
			Repository:         inmemory.NewJobRepository(),
			TransactionManager: tx.NewResourcelessTransactionManager(),
		}, nil
	case "sql", "":
		r, err := sqlrepo.NewFromConfig(sqlrepo.Params{Lifecycle: p.Lifecycle, Config: p.Config, Provider: p.Provider})
		if err != nil {
			return storeResult{}, err
		}
		return storeResult{Repository: r.Repository, TransactionManager: r.TransactionManager}, nil
	default:
		return storeResult{}, fmt.Errorf("unknown job_repository_type '%s'", typ)
	}
}

// Engine is what the commands work with once the application has started.
type Engine struct {
	Launcher usecase.JobLauncher
	Operator usecase.JobOperator
	Explorer usecase.JobExplorer
	Jobs     *registry.JobRegistry
	Config   *config.Config
}

// withEngine starts the application, calls fn and stops the application.
// Stopping waits for the runs still active, after asking them to stop.
func (o *Options) withEngine(ctx context.Context, fn func(ctx context.Context, e *Engine) error) (err error) {
	opts, err := o.appOptions()
	if err != nil {
		return err
	}
	var e Engine
	app := fx.New(append(opts, fx.Populate(&e.Launcher, &e.Operator, &e.Explorer, &e.Jobs, &e.Config))...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
		defer cancel()
		if serr := app.Stop(stopCtx); serr != nil && err == nil {
			err = fmt.Errorf("stop: %w", serr)
		}
	}()
	return fn(ctx, &e)
}
