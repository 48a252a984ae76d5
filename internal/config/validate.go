package config

import (
	"fmt"
	"strings"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true, "dpanic": true, "panic": true, "fatal": true}

// Validate enforces the configuration rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := validateMotors(&cfg.Motors); err != nil {
		return fmt.Errorf("motors validation failed: %w", err)
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validateWorkflow(&cfg.Workflow); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}
	if err := validateAuth(&cfg.API.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	return nil
}

func validateLog(cfg *LogConfig) error {
	if !validLevels[strings.ToLower(cfg.Level)] {
		return fmt.Errorf("invalid level %q", cfg.Level)
	}
	if cfg.Format != "console" && cfg.Format != "json" {
		return fmt.Errorf("format must be console or json, got %q", cfg.Format)
	}
	for _, out := range cfg.Outputs {
		if out == "file" && cfg.File.Path == "" {
			return fmt.Errorf("file output requires file.path")
		}
	}
	return nil
}

func validateMotors(cfg *MotorsConfig) error {
	if len(cfg.Ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}
	seen := make(map[string]bool, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if p == "" {
			return fmt.Errorf("port names must be non-empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate port %q", p)
		}
		seen[p] = true
	}
	if cfg.WheelCircumference <= 0 {
		return fmt.Errorf("wheel circumference must be positive, got %v", cfg.WheelCircumference)
	}
	if cfg.Driver != "sim" {
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if cfg.Defaults.Direction != 1 && cfg.Defaults.Direction != -1 {
		return fmt.Errorf("default direction must be 1 or -1, got %d", cfg.Defaults.Direction)
	}
	if cfg.Defaults.Speed < -100 || cfg.Defaults.Speed > 100 {
		return fmt.Errorf("default speed must be within [-100, 100], got %v", cfg.Defaults.Speed)
	}
	return nil
}

// ValidateTiming enforces the timing rules.
func ValidateTiming(cfg *TimingConfig) error {
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", cfg.HeartbeatJitter)
	}
	if cfg.HeartbeatJitter > cfg.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", cfg.HeartbeatJitter, cfg.HeartbeatInterval)
	}

	timeouts := map[string]int64{
		"claim":  int64(cfg.CommandTimeoutClaim),
		"read":   int64(cfg.CommandTimeoutRead),
		"motion": int64(cfg.CommandTimeoutMotion),
		"stop":   int64(cfg.CommandTimeoutStop),
	}
	for name, d := range timeouts {
		if d < 0 {
			return fmt.Errorf("command timeout %s must be non-negative, got %d", name, d)
		}
	}

	if cfg.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", cfg.EventBufferSize)
	}
	if cfg.EventQueueSize <= 0 {
		return fmt.Errorf("event queue size must be positive, got %d", cfg.EventQueueSize)
	}
	return nil
}

func validateWorkflow(cfg *WorkflowConfig) error {
	if cfg.MaxResumes <= 0 {
		return fmt.Errorf("max resumes must be positive, got %d", cfg.MaxResumes)
	}
	if cfg.LaunchAttempts <= 0 {
		return fmt.Errorf("launch attempts must be positive, got %d", cfg.LaunchAttempts)
	}
	if cfg.ReconnectInitial <= 0 {
		return fmt.Errorf("reconnect initial must be positive, got %v", cfg.ReconnectInitial)
	}
	if cfg.ReconnectBackoff < 1.0 {
		return fmt.Errorf("reconnect backoff must be >= 1.0, got %v", cfg.ReconnectBackoff)
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		return fmt.Errorf("reconnect max %v must be >= initial %v", cfg.ReconnectMax, cfg.ReconnectInitial)
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return fmt.Errorf("HS256 requires a secret")
		}
	case "RS256":
		if cfg.PublicKeyFile == "" {
			return fmt.Errorf("RS256 requires publicKeyFile")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", cfg.Algorithm)
	}
	return nil
}

// ValidateWorkflowRun checks the settings needed to start a workflow run.
func ValidateWorkflowRun(cfg *WorkflowConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if cfg.Token == "" {
		return fmt.Errorf("workflow token is required (set MCC_WORKFLOW_TOKEN)")
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("workflow base URL is required")
	}
	return nil
}
