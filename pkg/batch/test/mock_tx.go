// Package test holds testify mocks and fixtures shared by the engine tests.
package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// MockTx is a tx.Tx whose calls are recorded with testify/mock.
// AfterCompletion callbacks are kept and run by Complete.
type MockTx struct {
	mock.Mock
	tx.Synchronizations
}

// ExecuteUpdate implements tx.TxExecutor.
func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpsert implements tx.TxExecutor.
func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

// Savepoint implements tx.Tx.
func (m *MockTx) Savepoint(name string) error {
	return m.Called(name).Error(0)
}

// RollbackToSavepoint implements tx.Tx.
func (m *MockTx) RollbackToSavepoint(name string) error {
	return m.Called(name).Error(0)
}

// MockTxManager is a tx.TransactionManager whose calls are recorded with testify/mock.
// A successful Commit or Rollback completes the synchronizations of a *MockTx.
type MockTxManager struct {
	mock.Mock
}

// Begin implements tx.TransactionManager.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit implements tx.TransactionManager.
func (m *MockTxManager) Commit(t tx.Tx) error {
	err := m.Called(t).Error(0)
	if mt, ok := t.(*MockTx); ok && err == nil {
		mt.Complete(true)
	}
	return err
}

// Rollback implements tx.TransactionManager.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	err := m.Called(t).Error(0)
	if mt, ok := t.(*MockTx); ok && err == nil {
		mt.Complete(false)
	}
	return err
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.TransactionManager = (*MockTxManager)(nil)
)
