// Package logger provides structured, level-gated logging for the proxy.
//
// Each component gets its own named Logger (mitm, certcache, filterengine,
// proxy, lifecycle, management); fields are attached per call site rather
// than interpolated into the message string.
//
// Usage:
//
//	log := logger.New("proxy", cfg.LogLevel)
//	log.Infow("request blocked", "host", host, "path", path)
//	log.Errorw("upstream dial failed", "host", host, "err", err)
package logger

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Logger wraps an hclog.Logger scoped to a single module.
type Logger struct {
	hlog hclog.Logger
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return &Logger{
		hlog: hclog.New(&hclog.LoggerOptions{
			Name:       module,
			Level:      parseLevel(levelStr),
			Output:     os.Stderr,
			JSONFormat: false,
		}),
	}
}

// Named returns a sub-logger with module appended to the name hierarchy,
// sharing the same level and output.
func (l *Logger) Named(module string) *Logger {
	return &Logger{hlog: l.hlog.Named(module)}
}

// Debugw logs msg at DEBUG level with structured key/value fields.
func (l *Logger) Debugw(msg string, kv ...any) { l.hlog.Debug(msg, kv...) }

// Infow logs msg at INFO level with structured key/value fields.
func (l *Logger) Infow(msg string, kv ...any) { l.hlog.Info(msg, kv...) }

// Warnw logs msg at WARN level with structured key/value fields.
func (l *Logger) Warnw(msg string, kv ...any) { l.hlog.Warn(msg, kv...) }

// Errorw logs msg at ERROR level with structured key/value fields.
func (l *Logger) Errorw(msg string, kv ...any) { l.hlog.Error(msg, kv...) }

// Fatalw logs msg at ERROR level then calls os.Exit(1).
func (l *Logger) Fatalw(msg string, kv ...any) {
	l.hlog.Error(msg, kv...)
	os.Exit(1)
}

func parseLevel(s string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}
