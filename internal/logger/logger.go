// Package logger holds the process-wide structured logger. Output is
// JSON on stdout by default; level and format come from the environment
// so containerized deployments need no flags.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	levelEnv  = "STORYLINE_LOG_LEVEL"
	formatEnv = "STORYLINE_LOG_FORMAT"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// Init builds the default logger once. STORYLINE_LOG_LEVEL selects the
// minimum level (debug, info, warn, error; default info) and
// STORYLINE_LOG_FORMAT=text switches to the human-readable handler for
// local runs.
func Init() {
	once.Do(func() {
		defaultLogger = slog.New(newHandler(
			os.Stdout,
			os.Getenv(formatEnv),
			parseLevel(os.Getenv(levelEnv)),
		))
		slog.SetDefault(defaultLogger)
	})
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the default logger, initializing it on first use.
func Get() *slog.Logger {
	Init()
	return defaultLogger
}

// Info logs at info level on the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs at warn level on the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at error level, appending the error as a structured
// attribute when non-nil.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs at debug level on the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
