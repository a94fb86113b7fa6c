// Package logger sets up the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	mu            sync.RWMutex
	defaultLogger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
)

type Config struct {
	Level  string
	JSON   bool
	Output io.Writer
}

// Init replaces the default logger.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           parseLevel(cfg.Level),
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

func parseLevel(s string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func get() *charmlog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func Debug(msg string, keyvals ...any) { get().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { get().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { get().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { get().Error(msg, keyvals...) }

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...any) *charmlog.Logger {
	return get().With(keyvals...)
}
