package migration

import (
	"context"
	"io/fs"
	"strings"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Config holds the properties of a migration Tasklet.
type Config struct {
	// Dir is the directory of the migration files; defaults to the database type.
	Dir string `yaml:"dir"`
	// Command is "up" (default) or "down".
	Command string `yaml:"command"`
	// Table tracks applied migrations; defaults to DefaultMigrationsTable.
	Table string `yaml:"table"`
}

// Tasklet applies schema migrations. DDL is not part of the step transaction.
type Tasklet struct {
	migrator *Migrator
	fsys     fs.FS
	cfg      Config
}

var _ port.Tasklet = (*Tasklet)(nil)

// NewTasklet creates a Tasklet migrating conn with the files of fsys.
func NewTasklet(conn *gormadaptor.GormDBAdapter, fsys fs.FS, properties map[string]interface{}) (*Tasklet, error) {
	var cfg Config
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError("migration", "invalid migration tasklet properties", err, false, false)
	}
	if cfg.Dir == "" {
		cfg.Dir = conn.Type()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultMigrationsTable
	}
	cfg.Command = strings.ToLower(cfg.Command)
	switch cfg.Command {
	case "":
		cfg.Command = "up"
	case "up", "down":
	default:
		return nil, exception.NewBatchErrorf("migration", "unknown migration command '%s'", cfg.Command)
	}
	return &Tasklet{migrator: NewMigrator(conn), fsys: fsys, cfg: cfg}, nil
}

// Execute runs the configured command once.
func (t *Tasklet) Execute(ctx context.Context, contribution *port.StepContribution) (model.RepeatStatus, error) {
	var (
		changed bool
		err     error
	)
	if t.cfg.Command == "down" {
		changed, err = t.migrator.Down(ctx, t.fsys, t.cfg.Dir, t.cfg.Table)
	} else {
		changed, err = t.migrator.Up(ctx, t.fsys, t.cfg.Dir, t.cfg.Table)
	}
	if err != nil {
		return model.RepeatStatusFinished, exception.NewBatchError("migration", "migration '"+t.cfg.Command+"' failed", err, false, false)
	}
	contribution.StepExecution.ExecutionContext.Put("migration.changed", changed)
	return model.RepeatStatusFinished, nil
}
