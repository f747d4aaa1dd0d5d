// Package logger provides the structured logger used across the relayer core.
package logger

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the logging interface injected into drivers, stores and operations.
// It is satisfied by a go.uber.org/zap SugaredLogger wrapper.
//
// Loggers should be injected and Named per component: e.g. logger.Named(lggr, "Driver").
//
// Levels
//   - Error: a hard fault, e.g. a status record could not be written or decoded.
//   - Warn: best effort fallbacks, e.g. an operation without a cost estimate.
//   - Info: lifecycle milestones, e.g. an operation was delivered or dropped.
//   - Debug: per attempt details, e.g. an operation was not ready yet.
type Logger interface {
	// Name returns the fully qualified name of the logger.
	Name() string

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, values ...any)
	Infof(format string, values ...any)
	Warnf(format string, values ...any)
	Errorf(format string, values ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	// Sync flushes any buffered log entries.
	Sync() error
}

// Config is the runtime logger configuration.
type Config struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string
	// JSON selects the production JSON encoder; the console encoder is used otherwise.
	JSON bool
}

// New returns a new info level Logger.
func New() (Logger, error) { return Config{Level: "info", JSON: true}.New() }

// New returns a new Logger for Config.
func (c Config) New() (Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.Level.SetLevel(lvl)

	core, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &logger{core.Sugar()}, nil
}

// Named returns a child of l with name appended to its name. Loggers not created by this package
// are returned unchanged.
func Named(l Logger, name string) Logger {
	if zl, ok := l.(*logger); ok {
		return &logger{zl.SugaredLogger.Named(name)}
	}

	return l
}

// With returns a child of l that adds keysAndValues to every entry. Loggers not created by this
// package are returned unchanged.
func With(l Logger, keysAndValues ...any) Logger {
	if zl, ok := l.(*logger); ok {
		return &logger{zl.SugaredLogger.With(keysAndValues...)}
	}

	return l
}

// Test returns a new test Logger for tb.
func Test(tb testing.TB) Logger {
	tb.Helper()
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	lggr := zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zaptest.NewTestingWriter(tb),
			zapcore.DebugLevel,
		),
	)

	return &logger{lggr.Sugar()}
}

// TestObserved returns a new test Logger for tb and ObservedLogs at the given Level.
func TestObserved(tb testing.TB, lvl zapcore.Level) (Logger, *observer.ObservedLogs) {
	tb.Helper()
	oCore, logs := observer.New(lvl)
	observe := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, oCore)
	})

	return &logger{zaptest.NewLogger(tb, zaptest.WrapOptions(observe, zap.AddCaller())).Sugar()}, logs
}

// Nop returns a no-op Logger.
func Nop() Logger {
	return &logger{zap.New(zapcore.NewNopCore()).Sugar()}
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Name() string {
	return l.Desugar().Name()
}
