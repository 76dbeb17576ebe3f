package config

import "strings"

func (c *Config) normalize() {
	c.Relay.ListenHost = strings.TrimSpace(c.Relay.ListenHost)
	c.Relay.Path = strings.TrimSpace(c.Relay.Path)
	if c.Relay.Path == "" {
		c.Relay.Path = defaultPath
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		c.Relay.Path = "/" + c.Relay.Path
	}
	if c.Relay.GraceDelayMS == 0 {
		c.Relay.GraceDelayMS = defaultGraceDelayMS
	}
	if c.Relay.OutboxSize == 0 {
		c.Relay.OutboxSize = defaultOutboxSize
	}
	if c.Relay.MaxFrameBytes == 0 {
		c.Relay.MaxFrameBytes = defaultMaxFrameBytes
	}

	if c.Queue.MaxAttachmentBytes == 0 {
		c.Queue.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}

	c.Client.Name = strings.TrimSpace(c.Client.Name)

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
