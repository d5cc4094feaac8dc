// Package logger provides the process-wide structured logger used by every
// component of agentgateway. It wraps log/slog behind a small singleton so
// packages can log without threading a *slog.Logger through every
// constructor.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// EnvReader abstracts environment lookups so Initialize's env-driven
// behavior stays testable without mutating process-global state.
type EnvReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// Initialize configures the singleton logger from the process environment
// (LOG_LEVEL, UNSTRUCTURED_LOGS).
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv configures the singleton logger from the given
// environment reader. Exposed for tests.
func InitializeWithEnv(env EnvReader) {
	level := levelFromString(env.Getenv("LOG_LEVEL"))

	var handler slog.Handler
	if unstructuredLogsWithEnv(env) {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	singleton.Store(slog.New(handler))
}

func unstructuredLogsWithEnv(env EnvReader) bool {
	v := env.Getenv("UNSTRUCTURED_LOGS")
	switch v {
	case "false":
		return false
	default:
		return true
	}
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the current singleton logger.
func Get() *slog.Logger { return singleton.Load() }

// NewLogr is a seam for handing a logger to library code. It returns the
// current singleton *slog.Logger, the same value as Get; it does not
// adapt it to the logr.Logger interface.
func NewLogr() *slog.Logger { return Get() }

func log(level slog.Level, msg string) {
	Get().Log(context.Background(), level, msg)
}

func logf(level slog.Level, format string, args ...any) {
	Get().Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func logw(level slog.Level, msg string, kv ...any) {
	Get().Log(context.Background(), level, msg, kv...)
}

// Debug, Info, Warn, and Error log at the named level. The f-suffixed
// variants take a printf format; the w-suffixed variants take structured
// key/value pairs.
func Debug(msg string)                  { log(slog.LevelDebug, msg) }
func Debugf(format string, args ...any)  { logf(slog.LevelDebug, format, args...) }
func Debugw(msg string, kv ...any)       { logw(slog.LevelDebug, msg, kv...) }
func Info(msg string)                   { log(slog.LevelInfo, msg) }
func Infof(format string, args ...any)   { logf(slog.LevelInfo, format, args...) }
func Infow(msg string, kv ...any)        { logw(slog.LevelInfo, msg, kv...) }
func Warn(msg string)                   { log(slog.LevelWarn, msg) }
func Warnf(format string, args ...any)   { logf(slog.LevelWarn, format, args...) }
func Warnw(msg string, kv ...any)        { logw(slog.LevelWarn, msg, kv...) }
func Error(msg string)                  { log(slog.LevelError, msg) }
func Errorf(format string, args ...any)  { logf(slog.LevelError, format, args...) }
func Errorw(msg string, kv ...any)       { logw(slog.LevelError, msg, kv...) }

// DPanic logs at error level in production but is reserved for conditions
// that indicate a programmer error worth failing loudly on in development.
func DPanic(msg string)                 { log(slog.LevelError, msg) }
func DPanicf(format string, args ...any) { logf(slog.LevelError, format, args...) }
func DPanicw(msg string, kv ...any)      { logw(slog.LevelError, msg, kv...) }

// Panic logs at error level and then panics with the message.
func Panic(msg string) {
	log(slog.LevelError, msg)
	panic(msg)
}

func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log(slog.LevelError, msg)
	panic(msg)
}

func Panicw(msg string, kv ...any) {
	logw(slog.LevelError, msg, kv...)
	panic(msg)
}

// SetOutput replaces the singleton logger with one writing to w at level,
// as text when unstructured is true and as JSON otherwise.
func SetOutput(w io.Writer, level slog.Level, unstructured bool) {
	var handler slog.Handler
	if unstructured {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	singleton.Store(slog.New(handler))
}
