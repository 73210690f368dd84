// Package app wires the configuration, signaling channel, negotiation
// engine, local media and terminal UI into one call session.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/1ureka/eyecall/internal/call"
	"github.com/1ureka/eyecall/internal/config"
	"github.com/1ureka/eyecall/internal/media"
	"github.com/1ureka/eyecall/internal/media/capture"
	"github.com/1ureka/eyecall/internal/negotiation"
	"github.com/1ureka/eyecall/internal/signaling"
	"github.com/1ureka/eyecall/internal/ui"
	"github.com/1ureka/eyecall/internal/util"
)

// tuneEngine adjusts the engine options before the engine is built.
var tuneEngine = func(*negotiation.Options) {}

// Session is one call, assembled but not yet running.
type Session struct {
	ID       string
	cfg      config.Config
	engine   *negotiation.Engine
	media    *media.Shared
	recorder *ui.Recorder
	machine  *call.Machine
}

// NewSession validates cfg and builds every component of the call.
// callUI may be nil, in which case a terminal renderer is used.
func NewSession(cfg config.Config, callUI call.UI) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	kinds := kindsFor(cfg.Role)

	recorder, err := ui.NewRecorder(cfg.RecordDir, id[:8])
	if err != nil {
		return nil, err
	}

	opts := negotiation.Options{
		ICEServers:    cfg.ICEServers(),
		MDNS:          cfg.MDNS,
		OnRemoteTrack: recorder.OnTrack,
	}

	var src media.Source
	switch {
	case cfg.Capture:
		dev := &capture.Device{Kinds: kinds}
		opts.RegisterCodecs = dev.RegisterCodecs
		src = dev
	case cfg.VideoFile != "" || cfg.AudioFile != "":
		src = media.File{Kinds: kinds, VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile, StreamID: id}
	default:
		src = media.Synthetic{Kinds: kinds, StreamID: id}
	}

	tuneEngine(&opts)
	engine, err := negotiation.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiation engine: %w", err)
	}

	if callUI == nil {
		callUI = ui.NewTerminal(cfg.Role, cfg.Room, recorder)
	}

	framing := signaling.FramingTopLevel
	if cfg.BroadcastFraming {
		framing = signaling.FramingBroadcast
	}
	chanOpts := signaling.Options{PingInterval: cfg.PingInterval, Framing: framing}

	s := &Session{
		ID:       id,
		cfg:      cfg,
		engine:   engine,
		media:    media.NewShared(src),
		recorder: recorder,
	}

	s.machine = call.New(call.Config{
		Room:       cfg.Room,
		Role:       cfg.Role,
		ICEServers: opts.ICEServers,
	}, call.Deps{
		// The machine closes the channel itself, after sending leave.
		Dial: func(ctx context.Context) call.Channel {
			return signaling.Open(context.WithoutCancel(ctx), endpoint, chanOpts)
		},
		Engine: engine,
		Media:  s.media,
		UI:     callUI,
	})

	return s, nil
}

// Run drives the call until ctx is cancelled or the call fails, then
// releases the engine, the local media and the recorder.
func (s *Session) Run(ctx context.Context) error {
	util.SetSession(s.ID[:8])
	defer util.SetSession("")
	util.LogInfo("joining room %q as %s", s.cfg.Room, s.cfg.Role)

	statsCtx, stopStats := context.WithCancel(ctx)
	util.StartStatsReporter(statsCtx)

	err := s.machine.Run(ctx)

	stopStats()
	s.engine.Close()
	s.media.Close()
	s.recorder.Wait()

	if files := s.recorder.Files(); len(files) > 0 {
		util.LogSuccess("recorded %d file(s) to %s", len(files), s.recorder.Dir())
	}
	return err
}

// State returns the call state. Only meaningful after Run returned.
func (s *Session) State() call.State {
	return s.machine.State()
}

// Recorder returns the session's remote media sink.
func (s *Session) Recorder() *ui.Recorder {
	return s.recorder
}

// Run is NewSession followed by Session.Run with the terminal UI.
func Run(ctx context.Context, cfg config.Config) error {
	s, err := NewSession(cfg, nil)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// kindsFor returns what a role sends: the glass wearer its camera and
// microphone, the observer only its microphone.
func kindsFor(role config.Role) media.Kinds {
	return media.Kinds{Video: role == config.RoleGlassWearer, Audio: true}
}
