package rtc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below slog.LevelDebug for pion's trace output.
const LevelTrace = slog.LevelDebug - 4

// SlogLoggerFactory routes pion's internal logging to a slog.Logger, one
// "scope" attribute per pion subsystem.
type SlogLoggerFactory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = (*SlogLoggerFactory)(nil)

func (f *SlogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{log: l.With("scope", scope)}
}

type slogLogger struct {
	log *slog.Logger
}

func (l *slogLogger) logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Trace(msg string) { l.log.Log(context.Background(), LevelTrace, msg) }
func (l *slogLogger) Tracef(format string, args ...interface{}) {
	l.logf(LevelTrace, format, args...)
}
func (l *slogLogger) Debug(msg string) { l.log.Debug(msg) }
func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l *slogLogger) Info(msg string) { l.log.Info(msg) }
func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l *slogLogger) Warn(msg string) { l.log.Warn(msg) }
func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l *slogLogger) Error(msg string) { l.log.Error(msg) }
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.logf(slog.LevelError, format, args...)
}
