package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP, ...)
// through the pterm logger. Scopes are prefixed to every line.
//
// pion is chatty below warn, so trace/debug/info are only forwarded when
// debug logging is enabled.
type PionLoggerFactory struct{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

var _ logging.LeveledLogger = (*pionLogger)(nil)

func (l *pionLogger) line(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l *pionLogger) Trace(msg string) {
	if DebugEnabled() {
		pterm.DefaultLogger.Trace(l.line(msg))
	}
}

func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debug(msg string) {
	if DebugEnabled() {
		pterm.DefaultLogger.Debug(l.line(msg))
	}
}

func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Info(msg string) {
	if DebugEnabled() {
		pterm.DefaultLogger.Info(l.line(msg))
	}
}

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) {
	pterm.DefaultLogger.Warn(l.line(msg))
}

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) {
	pterm.DefaultLogger.Error(l.line(msg))
}

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
