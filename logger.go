package baseplate

import "go.uber.org/zap"

// Logger is the structured logging interface used throughout the module
// host. Implementations receive a message plus an even-length slice of
// key/value pairs, in the style of slog/logrus/zap's sugared loggers, so
// embedders can plug in whichever backend they already run.
//
// Every boot-phase decision and every contained steady-state error is
// logged through this interface. Nothing in this module writes to stdout
// or stderr directly.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// zapLogger adapts a zap.SugaredLogger to the Logger interface. It is the
// default backend used when an OSManager is constructed without an
// explicit Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps the given zap.Logger as a Logger. Passing nil builds
// a production zap.Logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		var err error
		z, err = zap.NewProduction()
		if err != nil {
			z = zap.NewNop()
		}
	}
	return &zapLogger{sugar: z.Sugar()}
}

func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// NopLogger discards everything. Useful in tests that don't want log
// noise but don't want a nil-pointer panic either.
func NopLogger() Logger { return &zapLogger{sugar: zap.NewNop().Sugar()} }
