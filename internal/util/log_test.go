package util

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func TestSessionTagAndPionBridge(t *testing.T) {
	buf := &bytes.Buffer{}
	SetLogOutput(buf)
	level := pterm.DefaultLogger.Level
	t.Cleanup(func() {
		SetLogOutput(nil)
		SetSession("")
		pterm.DefaultLogger.Level = level
	})
	pterm.DefaultLogger.Level = pterm.LogLevelInfo

	SetSession("a1b2c3d4")
	LogWarning("peer left %s", "blue-cat")
	assert.Contains(t, buf.String(), "peer left blue-cat")
	assert.Contains(t, buf.String(), "a1b2c3d4")

	// pion below warn is hidden unless debug is on.
	buf.Reset()
	l := PionLoggerFactory{}.NewLogger("ice")
	l.Infof("gathering %d candidates", 3)
	assert.Empty(t, buf.String())

	l.Warn("no route")
	assert.Contains(t, buf.String(), "[pion/ice] no route")

	buf.Reset()
	EnableDebug()
	assert.True(t, DebugEnabled())
	l.Debug("pair selected")
	assert.Contains(t, buf.String(), "[pion/ice] pair selected")
}
