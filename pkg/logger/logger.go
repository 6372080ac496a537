package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger with key/value style methods.
type Logger struct {
	*zap.SugaredLogger
	base *zap.Logger
}

// New creates a logger for the given level and environment.
// Production uses JSON encoding; everything else uses the console encoder.
func New(level, environment string) *Logger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewNop()
	}

	return NewLogger(base)
}

// NewLogger wraps an existing zap logger.
func NewLogger(base *zap.Logger) *Logger {
	return &Logger{
		SugaredLogger: base.Sugar(),
		base:          base,
	}
}

// Zap returns the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// With returns a child logger with the given key/value pairs attached.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(keysAndValues...),
		base:          l.base,
	}
}

// ForRequest returns a logger scoped to one HTTP request.
func (l *Logger) ForRequest(requestID, method, path string) *Logger {
	return l.With(
		"request_id", requestID,
		"method", method,
		"path", path,
	)
}

// Info logs at info level with key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}

// Warn logs at warn level with key/value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}

// Error logs at error level with key/value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// Debug logs at debug level with key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}

// Fatal logs at fatal level with key/value pairs, then exits.
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, keysAndValues...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
