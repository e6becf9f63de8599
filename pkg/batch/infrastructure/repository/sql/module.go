package sql

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// Params are the dependencies of NewFromConfig.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Provider  *gormadaptor.Provider
}

// Result is the metadata store: the repository, the transaction manager of
// its connection, and the connection itself.
type Result struct {
	fx.Out
	Repository         repository.JobRepository
	TransactionManager tx.TransactionManager
	Connection         *gormadaptor.GormDBAdapter `name:"metadata"`
}

// NewFromConfig opens the connection named by job_repository_db_ref and,
// when auto_migrate is set, creates the metadata tables on start.
func NewFromConfig(p Params) (Result, error) {
	ref := p.Config.ChunkBatch.Infrastructure.JobRepositoryDBRef
	conn, err := p.Provider.Connection(ref)
	if err != nil {
		return Result{}, fmt.Errorf("job repository database '%s': %w", ref, err)
	}
	repo := NewJobRepository(conn)
	if p.Config.ChunkBatch.Infrastructure.AutoMigrate {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return repo.Migrate(ctx)
			},
		})
	}
	return Result{
		Repository:         repo,
		TransactionManager: gormadaptor.NewGormTransactionManager(conn),
		Connection:         conn,
	}, nil
}

// Module provides the SQL JobRepository on the connection Provider.
var Module = fx.Options(
	gormadaptor.Module,
	fx.Provide(NewFromConfig),
)
