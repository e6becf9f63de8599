package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// RowMapper maps the current row of a cursor to an item.
type RowMapper[T any] func(rows *sqlx.Rows) (T, error)

// CursorReader streams the result of one query through an open cursor.
// Rows are mapped with sqlx struct scanning (`db` tags) unless a RowMapper is set.
//
// On restart the query is executed again and the rows consumed by earlier
// runs are skipped, so the query must return rows in a stable order.
type CursorReader[T any] struct {
	db     *sqlx.DB
	name   string
	query  string
	args   []any
	mapper RowMapper[T]

	rows  *sqlx.Rows
	count int
}

var (
	_ port.ItemReader[any] = (*CursorReader[any])(nil)
	_ port.ItemStream      = (*CursorReader[any])(nil)
)

// CursorReaderOption configures a CursorReader.
type CursorReaderOption[T any] func(*CursorReader[T])

// WithRowMapper replaces struct scanning with mapper.
func WithRowMapper[T any](mapper RowMapper[T]) CursorReaderOption[T] {
	return func(r *CursorReader[T]) { r.mapper = mapper }
}

// NewCursorReader creates a CursorReader. query uses '?' placeholders; they
// are rebound to the bind style of db.
func NewCursorReader[T any](db *sqlx.DB, name, query string, args []any, opts ...CursorReaderOption[T]) *CursorReader[T] {
	r := &CursorReader[T]{
		db:    db,
		name:  name,
		query: db.Rebind(query),
		args:  args,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mapper == nil {
		r.mapper = func(rows *sqlx.Rows) (T, error) {
			var item T
			err := rows.StructScan(&item)
			return item, err
		}
	}
	return r
}

// NewSqlxDB wraps the pool of conn for sqlx. The returned handle shares the
// pool, so it must not be closed separately.
func NewSqlxDB(conn *gormadaptor.GormDBAdapter) (*sqlx.DB, error) {
	sqlDB, err := conn.GetSQLDB()
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(sqlDB, sqlxDriverName(conn.Type())), nil
}

func sqlxDriverName(dbType string) string {
	switch dbType {
	case "sqlite":
		return "sqlite3"
	case "postgres", "redshift":
		return "postgres"
	default:
		return dbType
	}
}

// Open executes the query and skips the rows read before the last commit.
func (r *CursorReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if r.rows != nil {
		_ = r.rows.Close()
		r.rows = nil
	}
	rows, err := r.db.QueryxContext(ctx, r.query, r.args...)
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("CursorReader '%s': failed to execute query", r.name), err, false, false)
	}
	r.rows = rows
	r.count = 0

	skip := restoredCount(ec, r.name)
	for r.count < skip {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return exception.NewBatchError("reader", fmt.Sprintf("CursorReader '%s': failed to skip to row %d", r.name, skip), err, false, false)
			}
			logger.Warnf("CursorReader '%s': result ended after %d of %d committed row(s).", r.name, r.count, skip)
			return nil
		}
		r.count++
	}
	if skip > 0 {
		logger.Infof("CursorReader '%s': resumed after %d row(s).", r.name, skip)
	}
	return nil
}

// Read maps the next row. A row that fails to map still counts as consumed.
func (r *CursorReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.rows == nil {
		return zero, exception.NewBatchError("reader", fmt.Sprintf("CursorReader '%s' is not open", r.name), errors.New("reader not opened"), false, false)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return zero, exception.NewBatchError("reader", fmt.Sprintf("CursorReader '%s': row iteration failed", r.name), err, false, false)
		}
		return zero, port.ErrNoMoreItems
	}
	r.count++
	item, err := r.mapper(r.rows)
	if err != nil {
		return zero, fmt.Errorf("CursorReader '%s': failed to map row %d: %w", r.name, r.count, err)
	}
	return item, nil
}

// Update saves the number of rows consumed.
func (r *CursorReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(readCountKey(r.name), r.count)
	return nil
}

// Close closes the cursor.
func (r *CursorReader[T]) Close(context.Context) error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("CursorReader '%s': failed to close cursor", r.name), err, false, false)
	}
	logger.Debugf("CursorReader '%s': closed after %d row(s).", r.name, r.count)
	return nil
}
