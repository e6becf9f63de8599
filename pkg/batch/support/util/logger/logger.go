// Package logger provides the logging facade used throughout the batch engine.
// It keeps a printf-style API on top of log/slog, rendered by the tint handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
	// LevelSilent disables logging.
	LevelSilent
)

var (
	mu       sync.RWMutex
	level              = new(slog.LevelVar)
	logLevel           = LevelInfo
	out      io.Writer = os.Stderr
	base     *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	base = newLogger(out)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stderr && w != os.Stdout,
	}))
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" and "SILENT" (case-insensitive).
// Unknown values fall back to INFO.
func SetLogLevel(lvl string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(lvl) {
	case "DEBUG":
		logLevel = LevelDebug
		level.Set(slog.LevelDebug)
	case "INFO":
		logLevel = LevelInfo
		level.Set(slog.LevelInfo)
	case "WARN":
		logLevel = LevelWarn
		level.Set(slog.LevelWarn)
	case "ERROR":
		logLevel = LevelError
		level.Set(slog.LevelError)
	case "FATAL":
		logLevel = LevelFatal
		level.Set(slog.LevelError + 4)
	case "SILENT":
		logLevel = LevelSilent
		level.Set(slog.LevelError + 8)
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", lvl)
		logLevel = LevelInfo
		level.Set(slog.LevelInfo)
	}
}

// GetLogLevel returns the current log level.
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// SetOutput redirects log output. Intended for tests and CLI wiring.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	base = newLogger(w)
}

// Logger returns the underlying structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a structured logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

func logf(l slog.Level, format string, v ...interface{}) {
	lg := Logger()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, fmt.Sprintf(format, v...))
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	logf(slog.LevelDebug, format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	logf(slog.LevelInfo, format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	logf(slog.LevelWarn, format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	logf(slog.LevelError, format, v...)
}

// Fatalf outputs a message and terminates the program with exit code 1.
func Fatalf(format string, v ...interface{}) {
	Logger().Log(context.Background(), slog.LevelError+4, fmt.Sprintf(format, v...))
	os.Exit(1)
}
