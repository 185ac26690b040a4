// Package log provides structured logging for the relay services.
// It wraps the standard library's slog package with relay specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			"service", service,
			"version", version,
		),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "discard", "test", "error", "text")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type contextKey string

// RequestIDKey is the context key carrying a request or event id
const RequestIDKey contextKey = "request_id"

// WithContext returns a logger with fields found in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		return l.WithFields("request_id", reqID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithReceiver returns a logger scoped to one downstream receiver
func (l *Logger) WithReceiver(addr string) *Logger {
	return l.WithFields("receiver", addr)
}

// WithMiner returns a logger with miner-specific fields
func (l *Logger) WithMiner(user, worker string) *Logger {
	return l.WithFields("user", user, "worker", worker)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogConnection logs receiver connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogRelayMessage logs relay frames (debug level)
func (l *Logger) LogRelayMessage(direction, kind string, size int) {
	l.Debug("relay message",
		"direction", direction,
		"kind", kind,
		"payload_size", size,
	)
}

// LogShareRelayed logs an accepted share or weak block handed to the relay
func (l *Logger) LogShareRelayed(user, worker string, value uint64, height int64, weak bool) {
	l.Info("share relayed",
		"user", user,
		"worker", worker,
		"payout", value,
		"block_height", height,
		"weak_block", weak,
	)
}
