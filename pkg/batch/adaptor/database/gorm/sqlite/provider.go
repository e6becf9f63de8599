// Package sqlite registers the SQLite dialect. Import it for its side effect.
package sqlite

import (
	"errors"
	"strconv"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// DefaultBusyTimeoutMillis is added to DSNs that set no busy timeout.
const DefaultBusyTimeoutMillis = 5000

func init() {
	gormadaptor.RegisterDialector("sqlite", Dialector)
}

// Dialector opens cfg.Database, a file path or a "file:" URI.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	if cfg.Database == "" {
		return nil, errors.New("sqlite database path cannot be empty")
	}
	return sqlite.Open(withDefaults(cfg.Database)), nil
}

// withDefaults makes writers wait for a lock held by another connection
// instead of failing at once, and turns on WAL for file databases so an open
// cursor does not block the chunk commit.
func withDefaults(dsn string) string {
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout") {
		dsn = withParam(dsn, "_busy_timeout="+strconv.Itoa(DefaultBusyTimeoutMillis))
	}
	if !strings.Contains(dsn, "_journal") && !isMemory(dsn) {
		dsn = withParam(dsn, "_journal_mode=WAL")
	}
	return dsn
}

func withParam(dsn, param string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + param
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
