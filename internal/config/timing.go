package config

import (
	"time"
)

// TimingConfig holds heartbeat, buffering and command timeout settings.
type TimingConfig struct {
	// Telemetry heartbeat
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`

	// Command timeout classes. Zero means unbounded.
	CommandTimeoutClaim  time.Duration `yaml:"commandTimeoutClaim"`
	CommandTimeoutRead   time.Duration `yaml:"commandTimeoutRead"`
	CommandTimeoutMotion time.Duration `yaml:"commandTimeoutMotion"`
	CommandTimeoutStop   time.Duration `yaml:"commandTimeoutStop"`

	// Per-channel telemetry replay buffer
	EventBufferSize int `yaml:"eventBufferSize"`
	// Per-client queue of undelivered events
	EventQueueSize int `yaml:"eventQueueSize"`
}

// LoadTimingBaseline returns the baseline timing values.
func LoadTimingBaseline() TimingConfig {
	return TimingConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,

		CommandTimeoutClaim: 5 * time.Second,
		CommandTimeoutRead:  2 * time.Second,
		// Bounded moves hold their join barrier until the hardware returns.
		CommandTimeoutMotion: 0,
		CommandTimeoutStop:   2 * time.Second,

		EventBufferSize: 50,
		EventQueueSize:  100,
	}
}
