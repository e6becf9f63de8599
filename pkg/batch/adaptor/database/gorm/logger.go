package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SlowQueryThreshold is the duration above which statements are logged as slow.
const SlowQueryThreshold = 200 * time.Millisecond

// GormLogger routes GORM logs to the batch logger. Statements are logged at
// DEBUG, slow statements at WARN and failed statements at ERROR.
type GormLogger struct {
	level gormlogger.LogLevel
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger creates a GormLogger. level is "SILENT", "ERROR", "WARN" or "INFO";
// anything else means SILENT.
func NewGormLogger(level string) *GormLogger {
	l := gormlogger.Silent
	switch strings.ToUpper(level) {
	case "ERROR":
		l = gormlogger.Error
	case "WARN":
		l = gormlogger.Warn
	case "INFO", "DEBUG":
		l = gormlogger.Info
	}
	return &GormLogger{level: l}
}

// LogMode implements gormlogger.Interface.
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{level: level}
}

// Info implements gormlogger.Interface.
func (g *GormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Info {
		logger.Infof("[GORM] "+msg, data...)
	}
}

// Warn implements gormlogger.Interface.
func (g *GormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Warn {
		logger.Warnf("[GORM] "+msg, data...)
	}
}

// Error implements gormlogger.Interface.
func (g *GormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Error {
		logger.Errorf("[GORM] "+msg, data...)
	}
}

// Trace implements gormlogger.Interface.
func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		logger.Errorf("[GORM] %v [%s] rows=%s %s", err, elapsed, formatRows(rows), sql)
	case elapsed > SlowQueryThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		logger.Warnf("[GORM] slow query [%s >= %s] rows=%s %s", elapsed, SlowQueryThreshold, formatRows(rows), sql)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		logger.Debugf("[GORM] [%s] rows=%s %s", elapsed, formatRows(rows), sql)
	}
}

func formatRows(rows int64) string {
	if rows < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", rows)
}
