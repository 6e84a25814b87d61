// Package zaplogger backs stage.Logger with go.uber.org/zap, the
// structured-logging dependency the pack's lookatitude-beluga-ai uses
// throughout its o11y/core packages.
package zaplogger

import (
	"go.uber.org/zap"

	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// Logger wraps a *zap.SugaredLogger behind the teacher's four-method
// Logger contract (pkg/stage/types.go), so every component in this module
// logs through the same narrow interface regardless of backend.
type Logger struct {
	s *zap.SugaredLogger
}

var _ stage.Logger = (*Logger)(nil)

// New builds a production zap.Logger (JSON, info level) and wraps it.
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{s: z.Sugar()}, nil
}

// NewDevelopment builds a development zap.Logger (console, debug level,
// caller info) — intended for cmd/stage-demo when run locally.
func NewDevelopment() (*Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{s: z.Sugar()}, nil
}

// Wrap adapts an already-constructed *zap.Logger.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{s: z.Sugar()}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.s.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.s.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.s.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.s.Errorw(msg, args...) }

// Sync flushes any buffered log entries; callers should defer this at
// process shutdown.
func (l *Logger) Sync() error {
	return l.s.Sync()
}
