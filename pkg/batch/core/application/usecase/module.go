package usecase

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
)

// LauncherParams are the dependencies of the launcher.
type LauncherParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Repository repository.JobRepository
	Registry   *registry.JobRegistry
	Runner     port.JobRunner
	Config     *config.BatchConfig
}

// NewLauncher creates the launcher and stops its runs when the application stops.
func NewLauncher(p LauncherParams) *SimpleJobLauncher {
	l := NewSimpleJobLauncher(p.Repository, p.Registry, p.Runner, p.Config.MaxConcurrentRuns)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return l.Shutdown(ctx)
		},
	})
	return l
}

// Module provides JobLauncher, JobOperator and JobExplorer.
var Module = fx.Options(
	fx.Provide(
		NewLauncher,
		func(l *SimpleJobLauncher) JobLauncher { return l },
		fx.Annotate(NewSimpleJobOperator, fx.As(new(JobOperator))),
		fx.Annotate(NewSimpleJobExplorer, fx.As(new(JobExplorer))),
	),
)
