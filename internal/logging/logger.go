package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Format represents the log output format
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Level represents log levels
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level  Level
	Format Format
	Output io.Writer // defaults to os.Stdout if nil
}

// DefaultConfig returns a default logging configuration, picking console
// format for an interactive terminal and JSON for a redirected/piped stdout.
func DefaultConfig() Config {
	format := FormatJSON
	if f, ok := os.Stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		format = FormatConsole
	}
	return Config{
		Level:  LevelInfo,
		Format: format,
		Output: os.Stdout,
	}
}

var defaultLogger *slog.Logger

func init() {
	defaultLogger = New(DefaultConfig())
}

// New creates a new structured logger with the given configuration
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a Level string to slog.Level
func parseLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the package
func SetDefault(logger *slog.Logger) {
	defaultLogger = logger
	slog.SetDefault(logger)
}

// Default returns the default logger
func Default() *slog.Logger {
	return defaultLogger
}

// Context keys for logging
type contextKey string

const (
	// ContextKeyAdapter is the context key for the adapter name a log line concerns
	ContextKeyAdapter contextKey = "adapter"
)

// WithAdapter adds the adapter name to context
func WithAdapter(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyAdapter, name)
}

// CaptureAttrs returns common attributes for per-adapter capture logging
func CaptureAttrs(adapter string, packets, bytes int64, durationMs int64) []slog.Attr {
	return []slog.Attr{
		slog.String("adapter", adapter),
		slog.Int64("packets", packets),
		slog.Int64("bytes", bytes),
		slog.Int64("duration_ms", durationMs),
	}
}

// FlushAttrs returns common attributes for session-flush logging
func FlushAttrs(adapter string, incomingBytes, outgoingBytes, incomingPackets, outgoingPackets uint64) []slog.Attr {
	return []slog.Attr{
		slog.String("adapter", adapter),
		slog.Uint64("incoming_bytes", incomingBytes),
		slog.Uint64("outgoing_bytes", outgoingBytes),
		slog.Uint64("incoming_packets", incomingPackets),
		slog.Uint64("outgoing_packets", outgoingPackets),
	}
}

// ErrorAttrs returns common attributes for error logging
func ErrorAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	return []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", errorType(err)),
	}
}

// errorType attempts to determine the type of error
func errorType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}

// LogCaptureFailure logs an adapter capture failure with standard fields
func LogCaptureFailure(logger *slog.Logger, adapter string, err error) {
	attrs := []slog.Attr{slog.String("adapter", adapter)}
	attrs = append(attrs, ErrorAttrs(err)...)
	logger.LogAttrs(context.Background(), slog.LevelError, "capture worker stopped", attrs...)
}

// LogPersistenceFailure logs a storage write error. Callers rate-limit calls
// to this themselves; it does not throttle on its own.
func LogPersistenceFailure(logger *slog.Logger, target string, err error) {
	attrs := []slog.Attr{slog.String("target", target)}
	attrs = append(attrs, ErrorAttrs(err)...)
	logger.LogAttrs(context.Background(), slog.LevelError, "persistence write failed", attrs...)
}
