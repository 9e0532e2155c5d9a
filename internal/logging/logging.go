// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	JSON       bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "stock-alert", "logs", "stockalert.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:         os.Stdout,
				TimeFormat:  time.RFC3339,
				FormatLevel: formatLevel,
			})
		}
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", "stockalert").
		Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	default:
		return ll
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a ticker to the logger context.
func WithSymbol(logger zerolog.Logger, ticker string) zerolog.Logger {
	return logger.With().Str("symbol", ticker).Logger()
}

// WithRun adds a run ID to the logger context.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogFetch logs a provider fetch.
func LogFetch(logger zerolog.Logger, provider, ticker string, duration time.Duration, err error) {
	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Str("event", "fetch").
		Str("provider", provider).
		Str("symbol", ticker).
		Dur("duration", duration).
		Msg("Quote fetch")
}

// LogAlert logs an alert trigger.
func LogAlert(logger zerolog.Logger, ticker, signature string, price float64, delivered bool) {
	logger.Info().
		Str("event", "alert").
		Str("symbol", ticker).
		Str("signature", signature).
		Float64("price", price).
		Bool("delivered", delivered).
		Msg("Alert fired")
}

// LogRun logs a finished bulk run.
func LogRun(logger zerolog.Logger, runID, status string, ok, failed, notified int, duration time.Duration) {
	logger.Info().
		Str("event", "run").
		Str("run_id", runID).
		Str("status", status).
		Int("ok", ok).
		Int("errors", failed).
		Int("notified", notified).
		Dur("duration", duration).
		Msg("Run finished")
}
