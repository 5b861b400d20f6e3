// Package logger provides structured logging for schedver
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with schedver-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "schedver").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// EngineLogger returns the zerolog logger handed to the versioning engine
func (l *Logger) EngineLogger() zerolog.Logger {
	return l.zlog.With().Str("component", "engine").Logger()
}

// StorageLogger returns a logger for a storage backend
func (l *Logger) StorageLogger(backend string) *zerolog.Logger {
	zlog := l.zlog.With().
		Str("component", "storage").
		Str("backend", backend).
		Logger()
	return &zlog
}

// LogGrpcRequest logs a completed gRPC request
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}

	event.
		Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogReconcile logs the outcome of an orphan reconciliation pass
func (l *Logger) LogReconcile(documents, adopted, discarded int, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}

	event.
		Str("event", "reconcile").
		Int("documents", documents).
		Int("adopted", adopted).
		Int("discarded", discarded).
		Msg("Orphan reconciliation finished")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, backend, path string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("backend", backend).
		Str("path", path).
		Msg("schedver server starting")
}

// LogServerReady logs when server is ready
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("schedver server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("schedver server shutting down")
}

// InitGlobalLogger creates a logger and installs it as zerolog's global logger
func InitGlobalLogger(cfg Config) *Logger {
	l := NewLogger(cfg)
	log.Logger = *l.GetZerolog()
	return l
}
