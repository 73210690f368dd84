package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/eyecall/internal/config"
)

func execute(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()

	var got config.Config
	cmd := newRootCommand(func(_ context.Context, cfg config.Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(args)
	cmd.SetOut(os.Stderr)
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

func TestRoomURLOnly(t *testing.T) {
	cfg, err := execute(t, "https://relay.example.org/blue-cat?role=glass-wearer&pingInterval=10")
	require.NoError(t, err)

	assert.Equal(t, "blue-cat", cfg.Room)
	assert.Equal(t, config.RoleGlassWearer, cfg.Role)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)

	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.org/ws", endpoint)
}

func TestFlagsOverrideFileAndURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyecall.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
role = "glass-wearer"
ping_interval = 20
stun_host = "stun.file.example.org"
record_dir = "/tmp/from-file"
`), 0o600))

	cfg, err := execute(t,
		"--config", path,
		"--role", "observer",
		"--ping-interval", "0",
		"--turn", "turn.example.org",
		"--turn-user", "alice",
		"--turn-pass", "secret",
		"--ice-server", "stun:extra.example.org",
		"--broadcast-framing",
		"http://localhost:8080/blue-cat?pingInterval=5",
	)
	require.NoError(t, err)

	assert.Equal(t, config.RoleObserver, cfg.Role)
	assert.Zero(t, cfg.PingInterval)
	assert.Equal(t, "stun.file.example.org", cfg.STUNHost)
	assert.Equal(t, "/tmp/from-file", cfg.RecordDir)
	assert.True(t, cfg.BroadcastFraming)

	servers := cfg.ICEServers()
	require.Len(t, servers, 3)
	assert.Equal(t, []string{"stun:stun.file.example.org"}, servers[0].URLs)
	assert.Equal(t, "alice", servers[1].Username)
	assert.Equal(t, []string{"stun:extra.example.org"}, servers[2].URLs)
}

func TestInvalidInput(t *testing.T) {
	_, err := execute(t, "--role", "pilot", "https://relay.example.org/blue-cat")
	assert.ErrorIs(t, err, config.ErrInvalidRole)

	_, err = execute(t, "https://relay.example.org/")
	assert.ErrorIs(t, err, config.ErrMissingRoom)

	_, err = execute(t, "--turn", "turn.example.org", "https://relay.example.org/blue-cat")
	assert.Error(t, err)

	_, err = execute(t, "--ping-interval=-1", "https://relay.example.org/blue-cat")
	assert.Error(t, err)
}
