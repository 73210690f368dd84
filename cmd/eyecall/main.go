// Eyecall: CLI entry point.
//
// Joins a room on a signaling relay as the glass wearer (who sends camera
// and microphone) or the observer (who watches and talks back), and keeps
// the call alive until Ctrl+C.
//
// It can be launched interactively (no room URL) or non-interactively with
// the room URL as the only argument.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/eyecall/internal/app"
	"github.com/1ureka/eyecall/internal/call"
	"github.com/1ureka/eyecall/internal/config"
	"github.com/1ureka/eyecall/internal/util"
)

var version = "dev"

type flags struct {
	configPath   string
	role         string
	pingInterval int
	stun         string
	turn         string
	turnUser     string
	turnPass     string
	iceServers   []string
	mdns         bool
	broadcast    bool
	videoFile    string
	audioFile    string
	capture      bool
	recordDir    string
	debug        bool
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(runCall).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. run receives the final configuration.
func newRootCommand(run func(context.Context, config.Config) error) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "eyecall [room-url]",
		Short:         "Two-party video call between a glass wearer and a remote observer",
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.debug {
				util.EnableDebug()
			}

			pterm.Info.Println(fmt.Sprintf("Eyecall v%s", version))
			pterm.Println()

			cfg, err := buildConfig(cmd, f, args)
			if err != nil {
				util.LogError("%v", err)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "TOML config file")
	fl.StringVar(&f.role, "role", "", "Role: glass-wearer or observer (default observer)")
	fl.IntVar(&f.pingInterval, "ping-interval", 0, "Keepalive interval in seconds, 0 disables it (default 30)")
	fl.StringVar(&f.stun, "stun", "", "STUN server host[:port]")
	fl.StringVar(&f.turn, "turn", "", "TURN server host[:port]")
	fl.StringVar(&f.turnUser, "turn-user", "", "TURN username")
	fl.StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	fl.StringSliceVar(&f.iceServers, "ice-server", nil, "Extra ICE server URL (repeatable)")
	fl.BoolVar(&f.mdns, "mdns", false, "Hide local addresses behind mDNS names")
	fl.BoolVar(&f.broadcast, "broadcast-framing", false, "Wrap offers, answers and candidates in broadcast envelopes")
	fl.StringVar(&f.videoFile, "video-file", "", "IVF (VP8) file streamed as the camera")
	fl.StringVar(&f.audioFile, "audio-file", "", "Ogg (Opus) file streamed as the microphone")
	fl.BoolVar(&f.capture, "capture", false, "Capture the real camera and microphone")
	fl.StringVar(&f.recordDir, "record-dir", "", "Record the remote media to this directory")
	fl.BoolVar(&f.debug, "debug", false, "Enable debug logging")

	return cmd
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// buildConfig layers the config file, the room URL and the flags that were
// set explicitly. Without a room URL the user is prompted for one.
func buildConfig(cmd *cobra.Command, f flags, args []string) (config.Config, error) {
	cfg := config.Default()

	if f.configPath != "" {
		if err := cfg.LoadFile(f.configPath); err != nil {
			return cfg, err
		}
	}

	roomURL := args0(args)
	interactive := roomURL == ""
	if interactive {
		roomURL = askRoomURL()
	}
	if err := cfg.ApplyRoomURL(roomURL); err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	switch {
	case changed("role"):
		role, err := config.ParseRole(f.role)
		if err != nil {
			return cfg, err
		}
		cfg.Role = role
	case interactive && !strings.Contains(roomURL, "role="):
		cfg.Role = askRole(cfg.Role)
	}
	if changed("ping-interval") {
		if f.pingInterval < 0 {
			return cfg, errors.New("--ping-interval must not be negative")
		}
		cfg.PingInterval = time.Duration(f.pingInterval) * time.Second
	}
	if changed("stun") {
		cfg.STUNHost = f.stun
	}
	if changed("turn") {
		cfg.TURNHost = f.turn
	}
	if changed("turn-user") {
		cfg.TURNUsername = f.turnUser
	}
	if changed("turn-pass") {
		cfg.TURNPassword = f.turnPass
	}
	cfg.ICEURLs = append(cfg.ICEURLs, f.iceServers...)
	if changed("mdns") {
		cfg.MDNS = f.mdns
	}
	if changed("broadcast-framing") {
		cfg.BroadcastFraming = f.broadcast
	}
	if changed("video-file") {
		cfg.VideoFile = f.videoFile
	}
	if changed("audio-file") {
		cfg.AudioFile = f.audioFile
	}
	if changed("capture") {
		cfg.Capture = f.capture
	}
	if changed("record-dir") {
		cfg.RecordDir = f.recordDir
	}

	return cfg, cfg.Validate()
}

func args0(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// runCall runs one call. A deliberate hangup is not an error.
func runCall(ctx context.Context, cfg config.Config) error {
	err := app.Run(ctx, cfg)

	var callErr *call.Error
	switch {
	case err == nil:
		util.LogInfo("call ended")
		return nil
	case errors.As(err, &callErr):
		// Already rendered by the terminal UI.
		return err
	default:
		util.LogError("failed to start call: %v", err)
		return err
	}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// askRoomURL prompts the user for a room URL until a valid one is entered.
func askRoomURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room URL (e.g. https://relay.example.org/blue-cat)").
			Show()

		probe := config.Default()
		if err := probe.ApplyRoomURL(raw); err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter the full URL of a room")
	}
}

// askRole lets the user pick a role, preselecting current.
func askRole(current config.Role) config.Role {
	options := []string{
		"Observer:     watch the remote glass wearer",
		"Glass wearer: share this device's camera",
	}
	def := options[0]
	if current == config.RoleGlassWearer {
		def = options[1]
	}

	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultOption(def).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Glass") {
		return config.RoleGlassWearer
	}
	return config.RoleObserver
}
