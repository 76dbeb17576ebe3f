// Package config loads the wavelength TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Role is the part a wavelength process plays.
type Role string

const (
	RoleRelay  Role = "relay"
	RoleClient Role = "client"
)

// Relay configures the relay listener and every relay connection.
type Relay struct {
	ListenHost          string `toml:"listen_host"`
	Port                int    `toml:"port"`
	Path                string `toml:"path"`
	GraceDelayMS        int    `toml:"grace_delay_ms"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
	OutboxSize          int    `toml:"outbox_size"`
	MaxFrameBytes       int64  `toml:"max_frame_bytes"`
}

// Queue configures attachment processing.
type Queue struct {
	PoolSize           int   `toml:"pool_size"` // 0 = one worker per CPU
	TaskTimeoutSeconds int   `toml:"task_timeout_seconds"`
	MaxAttachmentBytes int64 `toml:"max_attachment_bytes"`
}

// Client holds defaults for `wavelength connect`.
type Client struct {
	Name      string `toml:"name"`
	Frequency int    `toml:"frequency"` // 0 = ask
}

// Logging configures log output.
type Logging struct {
	Level                string `toml:"level"`
	StatsIntervalSeconds int    `toml:"stats_interval_seconds"` // 0 disables
}

// Config is the whole wavelength configuration.
type Config struct {
	Relay   Relay   `toml:"relay"`
	Queue   Queue   `toml:"queue"`
	Client  Client  `toml:"client"`
	Logging Logging `toml:"logging"`
}

// GraceDelay returns relay.grace_delay_ms as a duration.
func (c *Config) GraceDelay() time.Duration {
	return time.Duration(c.Relay.GraceDelayMS) * time.Millisecond
}

// WriteTimeout returns relay.write_timeout_seconds as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Relay.WriteTimeoutSeconds) * time.Second
}

// TaskTimeout returns queue.task_timeout_seconds as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Queue.TaskTimeoutSeconds) * time.Second
}

// StatsInterval returns logging.stats_interval_seconds as a duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Logging.StatsIntervalSeconds) * time.Second
}

// DefaultConfigPath returns the absolute path of the default config file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/wavelength/config.toml")
}

// Load reads, normalizes and validates the config at path. An empty path
// looks in the default location and then ./wavelength.toml. A missing file
// is not an error: defaults apply and exists is false.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	c := Default()

	resolved, exists, err = resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&c); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, "", false, err
	}
	return &c, resolved, exists, nil
}

// Parse decodes a TOML document over the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) (string, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", err
		}
	} else {
		var err error
		if path, err = expandPath(path); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("wavelength.toml")
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
