// Package migration runs golang-migrate schema migrations as a tasklet step.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable tracks the migrations applied by application jobs.
const DefaultMigrationsTable = "chunkbatch_app_migrations"

// Migrator applies the migrations of one directory of an fs.FS to a connection.
type Migrator struct {
	conn *gormadaptor.GormDBAdapter
}

// NewMigrator creates a Migrator on conn.
func NewMigrator(conn *gormadaptor.GormDBAdapter) *Migrator {
	return &Migrator{conn: conn}
}

// Up applies all pending migrations. It reports whether anything changed.
func (m *Migrator) Up(ctx context.Context, fsys fs.FS, dir, table string) (bool, error) {
	return m.run(ctx, fsys, dir, table, "up", (*migrate.Migrate).Up)
}

// Down reverts all applied migrations. It reports whether anything changed.
func (m *Migrator) Down(ctx context.Context, fsys fs.FS, dir, table string) (bool, error) {
	return m.run(ctx, fsys, dir, table, "down", (*migrate.Migrate).Down)
}

func (m *Migrator) run(ctx context.Context, fsys fs.FS, dir, table, command string, apply func(*migrate.Migrate) error) (bool, error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return false, fmt.Errorf("failed to get sql.DB of '%s': %w", m.conn.Name(), err)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return false, fmt.Errorf("failed to open migration source '%s': %w", dir, err)
	}
	defer source.Close()

	driver, release, err := m.databaseDriver(ctx, sqlDB, table)
	if err != nil {
		return false, fmt.Errorf("failed to create %s migration driver: %w", m.conn.Type(), err)
	}
	defer release()

	// The migrate instance is not closed: closing it would close the shared pool.
	instance, err := migrate.NewWithInstance("iofs", source, m.conn.Type(), driver)
	if err != nil {
		return false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger.Infof("Running migration '%s' on '%s' (dir: %s, table: %s).", command, m.conn.Name(), dir, table)
	err = apply(instance)
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Infof("Migration '%s' on '%s': no change.", command, m.conn.Name())
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migration '%s' failed on '%s': %w", command, m.conn.Name(), err)
	}
	if version, dirty, verr := instance.Version(); verr == nil {
		logger.Infof("Migration '%s' on '%s' done: version %d (dirty=%t).", command, m.conn.Name(), version, dirty)
	}
	return true, nil
}

// databaseDriver returns the golang-migrate driver of the connection type and
// a function releasing what it holds without closing the pool.
func (m *Migrator) databaseDriver(ctx context.Context, sqlDB *sql.DB, table string) (database.Driver, func(), error) {
	switch m.conn.Type() {
	case "sqlite":
		d, err := sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: table})
		return d, func() {}, err
	case "postgres", "redshift":
		c, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		d, err := postgres.WithConnection(ctx, c, &postgres.Config{MigrationsTable: table})
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		return d, func() { _ = c.Close() }, nil
	case "mysql":
		c, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		d, err := mysql.WithConnection(ctx, c, &mysql.Config{MigrationsTable: table})
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		return d, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}
