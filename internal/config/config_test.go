package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcc.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
motors:
  ports: [A, B]
  wheelCircumference: 20
workflow:
  id: "7391"
  reconnectInitial: 250ms
timing:
  heartbeatInterval: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := strings.Join(cfg.Motors.Ports, ","); got != "A,B" {
		t.Errorf("ports = %s, want A,B", got)
	}
	if cfg.Motors.WheelCircumference != 20 {
		t.Errorf("circumference = %v, want 20", cfg.Motors.WheelCircumference)
	}
	if cfg.Workflow.ID != "7391" {
		t.Errorf("workflow id = %q", cfg.Workflow.ID)
	}
	if cfg.Workflow.ReconnectInitial != 250*time.Millisecond {
		t.Errorf("reconnect initial = %v, want 250ms", cfg.Workflow.ReconnectInitial)
	}
	if cfg.Timing.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat = %v, want 30s", cfg.Timing.HeartbeatInterval)
	}
	// Untouched keys keep defaults.
	if cfg.Workflow.MaxResumes != 64 {
		t.Errorf("max resumes = %d, want 64", cfg.Workflow.MaxResumes)
	}
	if cfg.Timing.CommandTimeoutStop != 2*time.Second {
		t.Errorf("stop timeout = %v, want 2s", cfg.Timing.CommandTimeoutStop)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "workflow:\n  id: from-file\n")
	t.Setenv("MCC_WORKFLOW_ID", "from-env")
	t.Setenv("MCC_WORKFLOW_TOKEN", "secret-token")
	t.Setenv("MCC_MOTOR_PORTS", "A, C")
	t.Setenv("MCC_TIMING_COMMAND_MOTION", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.ID != "from-env" {
		t.Errorf("workflow id = %q, want from-env", cfg.Workflow.ID)
	}
	if cfg.Workflow.Token != "secret-token" {
		t.Errorf("token not taken from environment")
	}
	if got := strings.Join(cfg.Motors.Ports, ","); got != "A,C" {
		t.Errorf("ports = %s, want A,C", got)
	}
	if cfg.Timing.CommandTimeoutMotion != 30*time.Second {
		t.Errorf("motion timeout = %v, want 30s", cfg.Timing.CommandTimeoutMotion)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "motors:\n  wheels: 4\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ports", func(c *Config) { c.Motors.Ports = nil }},
		{"duplicate port", func(c *Config) { c.Motors.Ports = []string{"A", "A"} }},
		{"zero circumference", func(c *Config) { c.Motors.WheelCircumference = 0 }},
		{"unknown driver", func(c *Config) { c.Motors.Driver = "serial" }},
		{"bad direction", func(c *Config) { c.Motors.Defaults.Direction = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative timeout", func(c *Config) { c.Timing.CommandTimeoutRead = -time.Second }},
		{"jitter too large", func(c *Config) { c.Timing.HeartbeatJitter = 10 * time.Second }},
		{"zero buffer", func(c *Config) { c.Timing.EventBufferSize = 0 }},
		{"backoff below one", func(c *Config) { c.Workflow.ReconnectBackoff = 0.5 }},
		{"max below initial", func(c *Config) { c.Workflow.ReconnectMax = 100 * time.Millisecond }},
		{"zero resumes", func(c *Config) { c.Workflow.MaxResumes = 0 }},
		{"hs256 without secret", func(c *Config) { c.API.Auth.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("Validate accepted %s", tt.name)
			}
		})
	}
}

func TestValidateWorkflowRun(t *testing.T) {
	cfg := Default()
	if err := ValidateWorkflowRun(&cfg.Workflow); err == nil {
		t.Fatal("expected error without id and token")
	}
	cfg.Workflow.ID = "7391"
	cfg.Workflow.Token = "t"
	if err := ValidateWorkflowRun(&cfg.Workflow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("MCC_TEST_BAD_DURATION", "soon")
	t.Setenv("MCC_TEST_BAD_INT", "many")
	if got := GetEnvDuration("MCC_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration = %v, want fallback", got)
	}
	if got := GetEnvInt("MCC_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt = %d, want fallback", got)
	}
	if got := GetEnvVar("MCC_TEST_UNSET", "x"); got != "x" {
		t.Errorf("GetEnvVar = %q, want x", got)
	}
}
