// Package sql provides a JobRepository backed by a relational database
// through GORM. Writes join the chunk transaction found in the context when
// it was begun on the same connection; writes made under any other
// transaction are applied once that transaction commits.
package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// JobRepository is a repository.JobRepository over one database connection.
type JobRepository struct {
	conn *gormadaptor.GormDBAdapter
}

var _ repository.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a JobRepository on conn.
func NewJobRepository(conn *gormadaptor.GormDBAdapter) *JobRepository {
	return &JobRepository{conn: conn}
}

// Migrate creates or updates the metadata tables.
func (r *JobRepository) Migrate(ctx context.Context) error {
	if err := r.conn.GetGormDB().WithContext(ctx).AutoMigrate(Entities()...); err != nil {
		return exception.NewBatchError("SQLJobRepository", "failed to migrate metadata tables", err, false, false)
	}
	logger.Debugf("SQLJobRepository: metadata tables are up to date on '%s'.", r.conn.Name())
	return nil
}

// Connection returns the connection the repository writes to.
func (r *JobRepository) Connection() *gormadaptor.GormDBAdapter {
	return r.conn
}

// Close does nothing; the connection belongs to its provider.
func (r *JobRepository) Close() error {
	return nil
}

// read returns the handle for queries in ctx.
func (r *JobRepository) read(ctx context.Context) *gorm.DB {
	return r.conn.DB(ctx)
}

// write runs fn in the transaction of ctx when it belongs to this connection,
// after a foreign transaction commits, or at once without a transaction.
func (r *JobRepository) write(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	if t, ok := r.conn.ForeignTx(ctx); ok {
		detached := context.WithoutCancel(ctx)
		t.AfterCompletion(func(committed bool) {
			if !committed {
				return
			}
			if err := fn(r.conn.GetGormDB().WithContext(detached)); err != nil {
				logger.Errorf("%s: write after commit failed: %v", op, err)
			}
		})
		return nil
	}
	return fn(r.conn.DB(ctx))
}

// versionedUpdate writes entity where its id and expected version match and
// reports an optimistic locking failure when no row was updated.
func versionedUpdate(db *gorm.DB, entity interface{}, kind, id string, expected int, omit ...string) error {
	result := db.Model(entity).
		Where("id = ? AND version = ?", id, expected).
		Select("*").Omit(append([]string{"id"}, omit...)...).
		Updates(entity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := db.Model(entity).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return errNotFound(kind)
	}
	return exception.NewOptimisticLockingFailureException("repository",
		fmt.Sprintf("%s %s was updated concurrently", kind, id),
		fmt.Errorf("no row with version %d", expected))
}

func errNotFound(kind string) error {
	switch kind {
	case "JobInstance":
		return repository.ErrJobInstanceNotFound
	case "JobExecution":
		return repository.ErrJobExecutionNotFound
	case "StepExecution":
		return repository.ErrStepExecutionNotFound
	default:
		return repository.ErrCheckpointDataNotFound
	}
}

// queryError maps a failed lookup to the not-found error of kind when the row
// or its table does not exist.
func queryError(op, kind string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || gormadaptor.IsTableNotExistError(err) {
		return errNotFound(kind)
	}
	return exception.NewBatchError(op, fmt.Sprintf("failed to load %s", kind), err, false, false)
}

func writeError(op, message string, err error) error {
	if exception.IsOptimisticLockingFailure(err) || isNotFound(err) {
		return err
	}
	return exception.NewBatchError(op, message, err, false, false)
}

// isUniqueViolation reports whether err is a unique constraint failure of any
// supported dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrJobInstanceNotFound) ||
		errors.Is(err, repository.ErrJobExecutionNotFound) ||
		errors.Is(err, repository.ErrStepExecutionNotFound) ||
		errors.Is(err, repository.ErrCheckpointDataNotFound)
}
