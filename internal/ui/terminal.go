// Package ui renders a call in the terminal and records the remote media.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/eyecall/internal/call"
	"github.com/1ureka/eyecall/internal/config"
)

// Terminal renders call progress with pterm. It implements call.UI.
type Terminal struct {
	role     config.Role
	room     string
	recorder *Recorder
	out      io.Writer

	mu   sync.Mutex
	last string // last status line, repeated statuses are not printed twice
}

// NewTerminal returns a Terminal writing to stdout. recorder may be nil.
func NewTerminal(role config.Role, room string, recorder *Recorder) *Terminal {
	return &Terminal{role: role, room: room, recorder: recorder, out: os.Stdout}
}

// ShowStatus prints the status line and, when set, its hint.
func (t *Terminal) ShowStatus(text, hint string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if text == t.last {
		return
	}
	t.last = text

	t.print(pterm.Info.Sprintfln("%s", text))
	if hint != "" {
		t.print(pterm.Description.Sprintfln("%s", hint))
	}
}

// ShowError prints the failure in a box.
func (t *Terminal) ShowError(err *call.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ""

	if err == nil {
		return
	}

	body := err.Kind.Message()
	if err.Detail != "" {
		body += "\n\n" + pterm.Gray("Details: "+err.Detail)
	}

	t.print(pterm.DefaultBox.
		WithTitle(pterm.Red("Call failed")).
		WithTitleTopCenter().
		Sprintln(body))
}

// ShowVideo announces that the call is up.
func (t *Terminal) ShowVideo() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ""

	peer := "glass wearer"
	if t.role == config.RoleGlassWearer {
		peer = "observer"
	}
	t.print(pterm.Success.Sprintfln("Call in progress with the remote %s in room %s", peer, t.room))

	if t.recorder != nil && t.recorder.Dir() != "" {
		t.print(pterm.Description.Sprintfln("Remote media is recorded to %s", t.recorder.Dir()))
	}
	t.print(pterm.Description.Sprintfln("Press Ctrl+C to hang up"))
}

// SetTurbulence shows or clears the degraded-link notice.
func (t *Terminal) SetTurbulence(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if on {
		t.print(pterm.Warning.Sprintfln("Connection is unstable, video may freeze"))
	} else {
		t.print(pterm.Info.Sprintfln("Connection is stable again"))
	}
}

func (t *Terminal) print(s string) {
	fmt.Fprint(t.out, s)
}
