package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
)

// ResourcelessTransactionManager manages transactions that guard no database.
// It is used with in-memory repositories and non-transactional writers;
// AfterCompletion callbacks still fire so staged work can be applied or dropped.
type ResourcelessTransactionManager struct {
	begun      atomic.Int64
	committed  atomic.Int64
	rolledBack atomic.Int64
}

// NewResourcelessTransactionManager creates a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{}
}

type resourcelessTx struct {
	Synchronizations
	done bool
}

func (t *resourcelessTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrUnsupportedOperation
}

func (t *resourcelessTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrUnsupportedOperation
}

func (t *resourcelessTx) Savepoint(name string) error           { return nil }
func (t *resourcelessTx) RollbackToSavepoint(name string) error { return nil }

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.begun.Add(1)
	return &resourcelessTx{}, nil
}

// Commit implements TransactionManager.
func (m *ResourcelessTransactionManager) Commit(t Tx) error {
	rt, err := m.finish(t)
	if err != nil {
		return err
	}
	m.committed.Add(1)
	rt.Complete(true)
	return nil
}

// Rollback implements TransactionManager.
func (m *ResourcelessTransactionManager) Rollback(t Tx) error {
	rt, err := m.finish(t)
	if err != nil {
		return err
	}
	m.rolledBack.Add(1)
	rt.Complete(false)
	return nil
}

func (m *ResourcelessTransactionManager) finish(t Tx) (*resourcelessTx, error) {
	rt, ok := t.(*resourcelessTx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", t)
	}
	if rt.done {
		return nil, sql.ErrTxDone
	}
	rt.done = true
	return rt, nil
}

// Stats returns the number of begun, committed and rolled back transactions.
func (m *ResourcelessTransactionManager) Stats() (begun, committed, rolledBack int64) {
	return m.begun.Load(), m.committed.Load(), m.rolledBack.Load()
}

var _ TransactionManager = (*ResourcelessTransactionManager)(nil)
