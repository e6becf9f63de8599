// Package postgres registers the PostgreSQL dialect. Redshift connections use it too.
package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func init() {
	gormadaptor.RegisterDialector("postgres", Dialector)
	gormadaptor.RegisterDialector("redshift", Dialector)
}

// Dialector returns the PostgreSQL dialector for cfg.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	return postgres.Open(gormadaptor.PostgresDSN(cfg)), nil
}
