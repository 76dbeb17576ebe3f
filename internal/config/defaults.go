package config

const (
	defaultPort                 = 9000
	defaultPath                 = "/ws"
	defaultGraceDelayMS         = 250
	defaultWriteTimeoutSeconds  = 10
	defaultOutboxSize           = 64
	defaultMaxFrameBytes        = 8 << 20
	defaultTaskTimeoutSeconds   = 120
	defaultMaxAttachmentBytes   = 4 << 20
	defaultLogLevel             = "info"
	defaultStatsIntervalSeconds = 10
)

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Relay: Relay{
			Port:                defaultPort,
			Path:                defaultPath,
			GraceDelayMS:        defaultGraceDelayMS,
			WriteTimeoutSeconds: defaultWriteTimeoutSeconds,
			OutboxSize:          defaultOutboxSize,
			MaxFrameBytes:       defaultMaxFrameBytes,
		},
		Queue: Queue{
			TaskTimeoutSeconds: defaultTaskTimeoutSeconds,
			MaxAttachmentBytes: defaultMaxAttachmentBytes,
		},
		Logging: Logging{
			Level:                defaultLogLevel,
			StatsIntervalSeconds: defaultStatsIntervalSeconds,
		},
	}
}
