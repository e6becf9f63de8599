// Package tx defines the transaction boundary used around each chunk.
package tx

import (
	"context"
	"database/sql"
	"errors"
)

// ErrUnsupportedOperation is returned by executors that cannot perform a write operation.
var ErrUnsupportedOperation = errors.New("operation not supported by this transaction")

// TxExecutor performs entity writes. Repositories use the executor of the
// transaction found in the context, so their writes commit with the chunk.
type TxExecutor interface {
	// ExecuteUpdate runs a CREATE, UPDATE or DELETE of model. query holds the
	// WHERE conditions for UPDATE and DELETE.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)
	// ExecuteUpsert inserts model or updates updateColumns on a conflict over conflictColumns.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx is an open transaction.
type Tx interface {
	TxExecutor

	// Savepoint marks a point the transaction can be rolled back to.
	Savepoint(name string) error
	// RollbackToSavepoint undoes work done after the named savepoint.
	RollbackToSavepoint(name string) error
	// AfterCompletion registers fn to run once the transaction commits (true) or rolls back (false).
	AfterCompletion(fn func(committed bool))
}

// TransactionManager opens and finishes transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

type txContextKey struct{}

// WithTx returns a context carrying t.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// FromContext returns the transaction carried by ctx.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok && t != nil
}

// Synchronizations collects AfterCompletion callbacks. Tx implementations embed it.
type Synchronizations struct {
	callbacks []func(committed bool)
}

// AfterCompletion registers fn.
func (s *Synchronizations) AfterCompletion(fn func(committed bool)) {
	s.callbacks = append(s.callbacks, fn)
}

// Complete runs and clears the registered callbacks.
func (s *Synchronizations) Complete(committed bool) {
	callbacks := s.callbacks
	s.callbacks = nil
	for _, fn := range callbacks {
		fn(committed)
	}
}
