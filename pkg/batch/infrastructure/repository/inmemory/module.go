package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// Module provides the in-memory JobRepository together with the resourceless
// transaction manager it pairs with.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewJobRepository,
			fx.As(new(repository.JobRepository)),
		),
		fx.Annotate(
			tx.NewResourcelessTransactionManager,
			fx.As(new(tx.TransactionManager)),
		),
	),
)
