// Package util provides the process-wide logger, the bridge that routes
// pion's logging into it, and call statistics.
package util

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

var (
	sessionMu sync.RWMutex
	sessionID string
)

// SetSession tags every following log line with the call session id.
// An empty id removes the tag.
func SetSession(id string) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	sessionID = id
}

// SetLogOutput redirects the logger. nil restores pterm's default output.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}

func sessionArgs() [][]pterm.LoggerArgument {
	sessionMu.RLock()
	defer sessionMu.RUnlock()
	if sessionID == "" {
		return nil
	}
	return [][]pterm.LoggerArgument{pterm.DefaultLogger.Args("session", sessionID)}
}

// Leveled logging functions backed by the pterm default logger.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), sessionArgs()...)
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), sessionArgs()...)
}

// LogSuccess is an info line marking a milestone of the call.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info("✓ "+fmt.Sprintf(format, args...), sessionArgs()...)
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), sessionArgs()...)
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), sessionArgs()...)
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are currently shown.
func DebugEnabled() bool {
	l := pterm.DefaultLogger.Level
	return l == pterm.LogLevelDebug || l == pterm.LogLevelTrace
}
