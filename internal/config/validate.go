package config

import (
	"errors"
	"fmt"

	"github.com/1ureka/wavelength/internal/protocol"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRelay() error {
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be 0 ~ 65535, got %d", c.Relay.Port)
	}
	if c.Relay.GraceDelayMS < 0 {
		return errors.New("relay.grace_delay_ms must not be negative")
	}
	if c.Relay.WriteTimeoutSeconds < 0 {
		return errors.New("relay.write_timeout_seconds must not be negative")
	}
	if c.Relay.OutboxSize < 0 {
		return errors.New("relay.outbox_size must not be negative")
	}
	if c.Relay.MaxFrameBytes < 0 {
		return errors.New("relay.max_frame_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.PoolSize < 0 {
		return errors.New("queue.pool_size must not be negative")
	}
	if c.Queue.TaskTimeoutSeconds < 0 {
		return errors.New("queue.task_timeout_seconds must not be negative")
	}
	if c.Queue.MaxAttachmentBytes < 0 {
		return errors.New("queue.max_attachment_bytes must not be negative")
	}
	if c.Queue.MaxAttachmentBytes > c.Relay.MaxFrameBytes/2 {
		// base64 grows data by a third; keep room for the envelope.
		return fmt.Errorf("queue.max_attachment_bytes (%d) must be at most half of relay.max_frame_bytes (%d)",
			c.Queue.MaxAttachmentBytes, c.Relay.MaxFrameBytes)
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.Client.Frequency == 0 {
		return nil
	}
	if err := protocol.Frequency(c.Client.Frequency).Validate(); err != nil {
		return fmt.Errorf("client.frequency: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.StatsIntervalSeconds < 0 {
		return errors.New("logging.stats_interval_seconds must not be negative")
	}
	return nil
}
