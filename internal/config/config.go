// Package config holds the call configuration: role, room, relay endpoint,
// keepalive and ICE server settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/webrtc/v4"
)

// Role is the fixed part a participant plays in a call.
type Role string

const (
	RoleGlassWearer Role = "glass-wearer"
	RoleObserver    Role = "observer"
)

// DefaultPingInterval is used when the room URL does not set pingInterval.
const DefaultPingInterval = 30 * time.Second

// DefaultSTUN is used when no ICE server is configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

var (
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidURL  = errors.New("invalid room URL")
	ErrMissingRoom = errors.New("missing room name")
)

// ParseRole maps a role string to a Role. An empty string selects the observer.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case "", RoleObserver:
		return RoleObserver, nil
	case RoleGlassWearer:
		return RoleGlassWearer, nil
	default:
		return "", fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidRole, s, RoleGlassWearer, RoleObserver)
	}
}

// Config stores every parameter of one call session, gathered from the
// config file, the room URL and CLI flags (in that order of precedence).
type Config struct {
	Server       string // relay base URL, e.g. https://example.org
	Room         string
	Role         Role
	PingInterval time.Duration // 0 disables keepalive

	STUNHost     string
	TURNHost     string
	TURNUsername string
	TURNPassword string
	ICEURLs      []string // extra raw ICE server URLs (stun:, turn:, turns:)

	MDNS             bool
	BroadcastFraming bool

	VideoFile string // IVF (VP8) file streamed as the camera
	AudioFile string // Ogg (Opus) file streamed as the microphone
	Capture   bool   // use real devices instead of files or synthetic tracks
	RecordDir string // remote tracks are written here when set
}

// Default returns a Config with the documented defaults applied.
func Default() Config {
	return Config{
		Role:         RoleObserver,
		PingInterval: DefaultPingInterval,
	}
}

// ---------------------------------------------------------------------------
// Config file
// ---------------------------------------------------------------------------

// fileConfig mirrors the TOML layout. Pointers distinguish "unset" from zero.
type fileConfig struct {
	Server           string   `toml:"server"`
	Role             string   `toml:"role"`
	PingInterval     *int     `toml:"ping_interval"`
	STUNHost         string   `toml:"stun_host"`
	TURNHost         string   `toml:"turn_host"`
	TURNUsername     string   `toml:"turn_username"`
	TURNPassword     string   `toml:"turn_password"`
	ICEServers       []string `toml:"ice_servers"`
	MDNS             *bool    `toml:"mdns"`
	BroadcastFraming *bool    `toml:"broadcast_framing"`
	RecordDir        string   `toml:"record_dir"`
	VideoFile        string   `toml:"video_file"`
	AudioFile        string   `toml:"audio_file"`
	Capture          *bool    `toml:"capture"`
}

// LoadFile overlays the values of a TOML config file onto c.
func (c *Config) LoadFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.applyFile(fc)
}

// LoadString is LoadFile for an in-memory document.
func (c *Config) LoadString(doc string) error {
	var fc fileConfig
	if _, err := toml.Decode(doc, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return c.applyFile(fc)
}

func (c *Config) applyFile(fc fileConfig) error {
	if fc.Server != "" {
		c.Server = fc.Server
	}
	if fc.Role != "" {
		role, err := ParseRole(fc.Role)
		if err != nil {
			return err
		}
		c.Role = role
	}
	if fc.PingInterval != nil {
		if *fc.PingInterval < 0 {
			return fmt.Errorf("ping_interval must not be negative: %d", *fc.PingInterval)
		}
		c.PingInterval = time.Duration(*fc.PingInterval) * time.Second
	}
	setIfNonEmpty(&c.STUNHost, fc.STUNHost)
	setIfNonEmpty(&c.TURNHost, fc.TURNHost)
	setIfNonEmpty(&c.TURNUsername, fc.TURNUsername)
	setIfNonEmpty(&c.TURNPassword, fc.TURNPassword)
	c.ICEURLs = append(c.ICEURLs, fc.ICEServers...)
	if fc.MDNS != nil {
		c.MDNS = *fc.MDNS
	}
	if fc.BroadcastFraming != nil {
		c.BroadcastFraming = *fc.BroadcastFraming
	}
	setIfNonEmpty(&c.RecordDir, fc.RecordDir)
	setIfNonEmpty(&c.VideoFile, fc.VideoFile)
	setIfNonEmpty(&c.AudioFile, fc.AudioFile)
	if fc.Capture != nil {
		c.Capture = *fc.Capture
	}
	return nil
}

func setIfNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ---------------------------------------------------------------------------
// Room URL
// ---------------------------------------------------------------------------

// ApplyRoomURL takes the server, room, role and keepalive interval from a
// room page URL such as
//
//	https://example.org/blue-cat?role=glass-wearer&pingInterval=10
//
// The room is the URL path without its slashes. Query parameters that are
// absent leave the current values untouched.
func (c *Config) ApplyRoomURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	room := strings.Trim(u.Path, "/")
	if room == "" {
		return fmt.Errorf("%w: %s", ErrMissingRoom, raw)
	}

	q := u.Query()
	if q.Has("role") {
		role, err := ParseRole(q.Get("role"))
		if err != nil {
			return err
		}
		c.Role = role
	}
	if q.Has("pingInterval") {
		secs, err := strconv.Atoi(q.Get("pingInterval"))
		if err != nil || secs < 0 {
			return fmt.Errorf("%w: pingInterval must be a non-negative number of seconds", ErrInvalidURL)
		}
		c.PingInterval = time.Duration(secs) * time.Second
	}

	c.Server = (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	c.Room = room
	return nil
}

// Endpoint returns the relay's WebSocket URL: ws(s)://host/ws.
// http and ws map to ws, everything else to wss.
func (c *Config) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.Server))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: server %q", ErrInvalidURL, c.Server)
	}
	scheme := "wss"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// ---------------------------------------------------------------------------
// ICE servers
// ---------------------------------------------------------------------------

// ICEServers builds the ICE server list: the STUN host, the TURN host over
// UDP and TCP with its credentials, then any raw URLs. With nothing
// configured it falls back to DefaultSTUN.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if c.STUNHost != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{"stun:" + c.STUNHost}})
	}
	if c.TURNHost != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{
				"turn:" + c.TURNHost + "?transport=udp",
				"turn:" + c.TURNHost + "?transport=tcp",
			},
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	for _, raw := range c.ICEURLs {
		if raw = strings.TrimSpace(raw); raw != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{raw}})
		}
	}

	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{DefaultSTUN}})
	}
	return servers
}

// Validate checks that the config is complete enough to start a call.
func (c *Config) Validate() error {
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	if c.Room == "" {
		return ErrMissingRoom
	}
	if _, err := c.Endpoint(); err != nil {
		return err
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping interval must not be negative: %s", c.PingInterval)
	}
	if c.TURNHost != "" && c.TURNUsername == "" {
		return errors.New("TURN host configured without a username")
	}
	return nil
}
