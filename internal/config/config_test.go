package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wavelength/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	// Go 1.21 equivalent of t.Chdir (added in Go 1.24).
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".config", "wavelength", "config.toml"), resolved)

	assert.Equal(t, 9000, cfg.Relay.Port)
	assert.Equal(t, "/ws", cfg.Relay.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.GraceDelay())
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout())
	assert.Equal(t, 2*time.Minute, cfg.TaskTimeout())
	assert.Equal(t, 10*time.Second, cfg.StatsInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Zero(t, cfg.Queue.PoolSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavelength.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[relay]
listen_host = " 127.0.0.1 "
port = 9100
path = "relay"

[queue]
pool_size = 6

[client]
name = "alice"
frequency = 104

[logging]
level = "DEBUG"
`), 0o644))

	cfg, resolved, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)

	assert.Equal(t, "127.0.0.1", cfg.Relay.ListenHost)
	assert.Equal(t, 9100, cfg.Relay.Port)
	assert.Equal(t, "/relay", cfg.Relay.Path)
	assert.Equal(t, 6, cfg.Queue.PoolSize)
	assert.Equal(t, "alice", cfg.Client.Name)
	assert.Equal(t, 104, cfg.Client.Frequency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 64, cfg.Relay.OutboxSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavelength.toml")
	require.NoError(t, os.WriteFile(path, []byte("[relay]\nprot = 1\n"), 0o644))

	_, _, _, err := config.Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"port range", "[relay]\nport = 70000", "relay.port"},
		{"negative grace", "[relay]\ngrace_delay_ms = -1", "grace_delay_ms"},
		{"negative write timeout", "[relay]\nwrite_timeout_seconds = -1", "write_timeout_seconds"},
		{"negative pool", "[queue]\npool_size = -2", "pool_size"},
		{"attachment vs frame", "[queue]\nmax_attachment_bytes = 8388608", "max_attachment_bytes"},
		{"frequency", "[client]\nfrequency = 301", "client.frequency"},
		{"level", "[logging]\nlevel = \"loud\"", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	cfg, err := config.Parse([]byte(config.SampleConfig()))
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Relay, cfg.Relay)
	assert.Equal(t, def.Queue, cfg.Queue)
	assert.Equal(t, def.Logging, cfg.Logging)
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	written, err := config.WriteSample(path)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	_, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = config.WriteSample(path)
	assert.ErrorContains(t, err, "already exists")
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Client.Name = "bob"
	data, err := cfg.Encode()
	require.NoError(t, err)

	var back config.Config
	require.NoError(t, toml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}
