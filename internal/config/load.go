package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is read when no path is given and the file exists.
const DefaultPath = "config/mcc.yaml"

// Load merges Default() + the YAML file at path (or MCC_CONFIG, or
// DefaultPath if present) + MCC_* environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv("MCC_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath
		}
	}

	if err := loadFromFile(cfg, path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies MCC_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	// Logging
	cfg.Log.Level = GetEnvVar("MCC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvVar("MCC_LOG_FORMAT", cfg.Log.Format)
	if val := os.Getenv("MCC_LOG_OUTPUTS"); val != "" {
		cfg.Log.Outputs = splitList(val)
	}
	cfg.Log.File.Path = GetEnvVar("MCC_LOG_FILE", cfg.Log.File.Path)

	// Motors
	if val := os.Getenv("MCC_MOTOR_PORTS"); val != "" {
		cfg.Motors.Ports = splitList(val)
	}
	cfg.Motors.WheelCircumference = GetEnvFloat("MCC_WHEEL_CIRCUMFERENCE", cfg.Motors.WheelCircumference)
	cfg.Motors.Driver = GetEnvVar("MCC_MOTOR_DRIVER", cfg.Motors.Driver)

	// Timing
	cfg.Timing.HeartbeatInterval = GetEnvDuration("MCC_TIMING_HEARTBEAT_INTERVAL", cfg.Timing.HeartbeatInterval)
	cfg.Timing.HeartbeatJitter = GetEnvDuration("MCC_TIMING_HEARTBEAT_JITTER", cfg.Timing.HeartbeatJitter)
	cfg.Timing.CommandTimeoutClaim = GetEnvDuration("MCC_TIMING_COMMAND_CLAIM", cfg.Timing.CommandTimeoutClaim)
	cfg.Timing.CommandTimeoutRead = GetEnvDuration("MCC_TIMING_COMMAND_READ", cfg.Timing.CommandTimeoutRead)
	cfg.Timing.CommandTimeoutMotion = GetEnvDuration("MCC_TIMING_COMMAND_MOTION", cfg.Timing.CommandTimeoutMotion)
	cfg.Timing.CommandTimeoutStop = GetEnvDuration("MCC_TIMING_COMMAND_STOP", cfg.Timing.CommandTimeoutStop)
	cfg.Timing.EventBufferSize = GetEnvInt("MCC_TIMING_EVENT_BUFFER_SIZE", cfg.Timing.EventBufferSize)

	// Workflow
	cfg.Workflow.ID = GetEnvVar("MCC_WORKFLOW_ID", cfg.Workflow.ID)
	cfg.Workflow.BaseURL = GetEnvVar("MCC_WORKFLOW_BASE_URL", cfg.Workflow.BaseURL)
	cfg.Workflow.Token = GetEnvVar("MCC_WORKFLOW_TOKEN", cfg.Workflow.Token)
	cfg.Workflow.CurlPath = GetEnvVar("MCC_WORKFLOW_CURL", cfg.Workflow.CurlPath)
	cfg.Workflow.MaxResumes = GetEnvInt("MCC_WORKFLOW_MAX_RESUMES", cfg.Workflow.MaxResumes)
	cfg.Workflow.ReconnectInitial = GetEnvDuration("MCC_WORKFLOW_RECONNECT_INITIAL", cfg.Workflow.ReconnectInitial)
	cfg.Workflow.ReconnectBackoff = GetEnvFloat("MCC_WORKFLOW_RECONNECT_BACKOFF", cfg.Workflow.ReconnectBackoff)
	cfg.Workflow.ReconnectMax = GetEnvDuration("MCC_WORKFLOW_RECONNECT_MAX", cfg.Workflow.ReconnectMax)

	// API
	cfg.API.Addr = GetEnvVar("MCC_ADDR", cfg.API.Addr)
	if val := os.Getenv("MCC_AUTH_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("MCC_AUTH_ENABLED: %w", err)
		}
		cfg.API.Auth.Enabled = enabled
	}
	cfg.API.Auth.Secret = GetEnvVar("MCC_AUTH_SECRET", cfg.API.Auth.Secret)

	// Audit
	cfg.Audit.Path = GetEnvVar("MCC_AUDIT_PATH", cfg.Audit.Path)

	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvFloat returns the value of an environment variable as a float64 with a default.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
