package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// GormTxAdapter is a tx.Tx over a GORM transaction.
type GormTxAdapter struct {
	tx.Synchronizations

	db   *gorm.DB
	conn *GormDBAdapter
	done bool
}

var _ tx.Tx = (*GormTxAdapter)(nil)

// DB returns the transaction handle bound to ctx.
func (t *GormTxAdapter) DB(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.DB(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.DB(ctx), model, tableName, conflictColumns, updateColumns)
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager begins chunk transactions on one connection.
type GormTransactionManager struct {
	conn *GormDBAdapter
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)

// NewGormTransactionManager creates a GormTransactionManager for conn.
func NewGormTransactionManager(conn *GormDBAdapter) *GormTransactionManager {
	return &GormTransactionManager{conn: conn}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil && opts[0].Isolation != sql.LevelDefault {
		txOpts = opts[0]
	}
	gormTx := m.conn.db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.conn.name, gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx, conn: m.conn}, nil
}

// Commit implements tx.TransactionManager. Synchronizations run with the outcome.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gt, err := m.own(t)
	if err != nil {
		return err
	}
	if gt.done {
		return sql.ErrTxDone
	}
	gt.done = true
	if err := gt.db.Commit().Error; err != nil {
		gt.Complete(false)
		return err
	}
	gt.Complete(true)
	return nil
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gt, err := m.own(t)
	if err != nil {
		return err
	}
	if gt.done {
		return sql.ErrTxDone
	}
	gt.done = true
	err = gt.db.Rollback().Error
	gt.Complete(false)
	return err
}

func (m *GormTransactionManager) own(t tx.Tx) (*GormTxAdapter, error) {
	gt, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid transaction type %T: expected *GormTxAdapter", t)
	}
	if gt.conn != m.conn {
		return nil, fmt.Errorf("transaction belongs to connection '%s', not '%s'", gt.conn.name, m.conn.name)
	}
	return gt, nil
}
