// Package mysql registers the MySQL dialect.
package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func init() {
	gormadaptor.RegisterDialector("mysql", Dialector)
}

// Dialector returns the MySQL dialector for cfg.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	return mysql.Open(gormadaptor.MySQLDSN(cfg)), nil
}
