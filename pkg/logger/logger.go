// Package logger provides the package-level structured logger shared by
// every layer of the pool (allocator, pool, client, cache, stream adapter).
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog.LevelDebug for the high-volume per-operation
// tracing the pool and allocator emit (lease acquire, allocator provider
// selection). Kept out of the default Debug level so it can be
// enabled independently.
const LevelTrace = slog.Level(-8)

var Log *slog.Logger

func init() {
	Init("INFO")
}

// Init (re)configures the global logger at the given level name
// ("TRACE", "DEBUG", "INFO", "WARN", "ERROR"; unrecognized values default to INFO).
func Init(levelStr string) {
	level := parseLevel(levelStr)
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, opts))
	slog.SetDefault(Log)
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a component-scoped sub-logger, e.g. logger.With("pool").
func With(component string, args ...any) *slog.Logger {
	return Log.With(append([]any{"component", component}, args...)...)
}

func Trace(msg string, args ...any) {
	Log.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
