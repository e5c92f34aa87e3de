// Package logging provides the structured logger shared by all bridge
// components, built on log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with bridge-specific field helpers.
type Logger struct {
	*slog.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	Output    string // stdout, stderr, or a file path
	Component string
}

// New creates a logger from the given config. Unknown levels fall back to
// info; an unopenable output file falls back to stdout.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: l, component: cfg.Component}
}

// Default creates a logger configured from LOG_LEVEL/LOG_FORMAT.
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stderr",
		Component: component,
	})
}

// Nop returns a logger that discards everything. Used in tests and as the
// fallback when a component is constructed without a logger.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithSessionID returns a logger with the session_id field attached.
func (l *Logger) WithSessionID(id string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("session_id", id)),
		component: l.component,
	}
}

// WithInvocation returns a logger with the invocation sequence attached.
func (l *Logger) WithInvocation(seq int) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Int("invocation", seq)),
		component: l.component,
	}
}

// WithError returns a logger with the error field attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// WithDuration returns a logger with duration_ms attached.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))),
		component: l.component,
	}
}
