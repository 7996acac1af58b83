// Package log is the structured logging facade used across handlegate. Call
// sites pass fields as a map and never import zap directly.
package log

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes leveled entries with key/value fields.
type Logger interface {
	Info(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Debug(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
	// With derives a logger that stamps fields on each entry.
	With(fields map[string]any) Logger
}

type loggerBox struct{ Logger }

var current atomic.Pointer[loggerBox]

func init() {
	current.Store(&loggerBox{newZapLogger(false, zapcore.InfoLevel)})
}

// SetLogger swaps the process-wide logger. Tests use it to capture output.
func SetLogger(l Logger) {
	current.Store(&loggerBox{l})
}

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	return current.Load().Logger
}

// Configure installs a zap logger for env ("prod" selects JSON output,
// anything else the console encoder) at the named level.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	SetLogger(newZapLogger(env != "prod", lvl))
	return nil
}

// Sync flushes buffered entries. Loggers without a buffer are a no-op.
func Sync() error {
	if s, ok := GetLogger().(interface{ sync() error }); ok {
		return s.sync()
	}
	return nil
}

func Info(fields map[string]any, msg string)  { GetLogger().Info(fields, msg) }
func Error(fields map[string]any, msg string) { GetLogger().Error(fields, msg) }
func Debug(fields map[string]any, msg string) { GetLogger().Debug(fields, msg) }
func Warn(fields map[string]any, msg string)  { GetLogger().Warn(fields, msg) }

// Panic writes the entry and then panics.
func Panic(fields map[string]any, msg string) { GetLogger().Panic(fields, msg) }

// Fatal writes the entry and then exits the process.
func Fatal(fields map[string]any, msg string) { GetLogger().Fatal(fields, msg) }

type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	return &zapLogger{base: base}
}

// write skips field conversion when the level is disabled. Panic and fatal
// entries are still checked, so their side effects always run.
func (l *zapLogger) write(lvl zapcore.Level, fields map[string]any, msg string) {
	if ce := l.base.Check(lvl, msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

func (l *zapLogger) Info(fields map[string]any, msg string) { l.write(zapcore.InfoLevel, fields, msg) }
func (l *zapLogger) Error(fields map[string]any, msg string) {
	l.write(zapcore.ErrorLevel, fields, msg)
}
func (l *zapLogger) Debug(fields map[string]any, msg string) {
	l.write(zapcore.DebugLevel, fields, msg)
}
func (l *zapLogger) Warn(fields map[string]any, msg string) { l.write(zapcore.WarnLevel, fields, msg) }
func (l *zapLogger) Panic(fields map[string]any, msg string) {
	l.write(zapcore.PanicLevel, fields, msg)
}
func (l *zapLogger) Fatal(fields map[string]any, msg string) {
	l.write(zapcore.FatalLevel, fields, msg)
}

func (l *zapLogger) With(fields map[string]any) Logger {
	return &zapLogger{base: l.base.With(zapFields(fields)...)}
}

func (l *zapLogger) sync() error {
	return l.base.Sync()
}

// zapFields keeps errors typed so encoders emit them under their key with
// a verbose form where available.
func zapFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
		} else {
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that drops everything. Components default
// to it when no logger is injected.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Info(map[string]any, string)  {}
func (noopLogger) Error(map[string]any, string) {}
func (noopLogger) Debug(map[string]any, string) {}
func (noopLogger) Warn(map[string]any, string)  {}
func (noopLogger) Panic(map[string]any, string) {}
func (noopLogger) Fatal(map[string]any, string) {}
func (n noopLogger) With(map[string]any) Logger { return n }
