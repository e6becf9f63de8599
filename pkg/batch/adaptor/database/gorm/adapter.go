// Package gorm connects the batch engine to relational databases through GORM.
// It provides connections, the chunk transaction manager and the dialect
// registry used by the sqlite, postgres and mysql subpackages.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// GormDBAdapter is a named database connection.
type GormDBAdapter struct {
	db   *gorm.DB
	cfg  config.DatabaseConfig
	name string
}

var _ tx.TxExecutor = (*GormDBAdapter)(nil)

// NewGormDBAdapter wraps an open GORM handle.
func NewGormDBAdapter(db *gorm.DB, cfg config.DatabaseConfig, name string) *GormDBAdapter {
	return &GormDBAdapter{db: db, cfg: cfg, name: name}
}

// GetGormDB returns the underlying handle, outside of any transaction.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

// DB returns the handle to use for ctx: the transaction carried by ctx when it
// was begun on this connection, the connection itself otherwise.
func (a *GormDBAdapter) DB(ctx context.Context) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if gt, ok := t.(*GormTxAdapter); ok && gt.conn == a {
			return gt.db.WithContext(ctx)
		}
	}
	return a.db.WithContext(ctx)
}

// ForeignTx returns the transaction carried by ctx when it does not belong to
// this connection. Writes made on behalf of such a transaction are deferred
// until it commits.
func (a *GormDBAdapter) ForeignTx(ctx context.Context) (tx.Tx, bool) {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return nil, false
	}
	if gt, ok := t.(*GormTxAdapter); ok && gt.conn == a {
		return nil, false
	}
	return t, true
}

// Close closes the connection pool.
func (a *GormDBAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Type returns the database type, e.g. "sqlite".
func (a *GormDBAdapter) Type() string {
	return a.cfg.Type
}

// Name returns the connection name, e.g. "metadata".
func (a *GormDBAdapter) Name() string {
	return a.name
}

// Config returns the settings the connection was opened with.
func (a *GormDBAdapter) Config() config.DatabaseConfig {
	return a.cfg
}

// GetSQLDB returns the underlying *sql.DB, for migration tools and raw SQL access.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	return a.db.DB()
}

// ExecuteUpdate implements tx.TxExecutor on the transaction in ctx, if any.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(a.DB(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor on the transaction in ctx, if any.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(a.DB(ctx), model, tableName, conflictColumns, updateColumns)
}

// IsTableNotExistError reports whether err says a table is missing.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return IsTableNotExistError(err)
}

// IsTableNotExistError reports whether err says a table is missing, for any supported dialect.
func IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) || // MySQL
		strings.Contains(msg, "no such table:") // SQLite
}

func executeUpdate(db *gorm.DB, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}
	var result *gorm.DB
	switch strings.ToUpper(operation) {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeUpsert(db *gorm.DB, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}
	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
