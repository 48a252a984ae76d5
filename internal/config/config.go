package config

import (
	"time"
)

// Config is the complete container configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Motors   MotorsConfig   `yaml:"motors"`
	Timing   TimingConfig   `yaml:"timing"`
	Workflow WorkflowConfig `yaml:"workflow"`
	API      APIConfig      `yaml:"api"`
	Audit    AuditConfig    `yaml:"audit"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string        `yaml:"level"`
	Format  string        `yaml:"format"` // console or json
	Outputs []string      `yaml:"outputs"`
	File    FileLogConfig `yaml:"file"`
}

// FileLogConfig controls rotation for the "file" log output.
type FileLogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// MotorsConfig describes the motor channels.
type MotorsConfig struct {
	Ports              []string         `yaml:"ports"`
	WheelCircumference float64          `yaml:"wheelCircumference"`
	Driver             string           `yaml:"driver"` // sim
	ErrorFamily        string           `yaml:"errorFamily"`
	Sim                SimConfig        `yaml:"sim"`
	Defaults           ParameterDefault `yaml:"defaults"`
}

// SimConfig configures the simulated driver.
type SimConfig struct {
	RatedDPS float64 `yaml:"ratedDps"`
	Realtime bool    `yaml:"realtime"`
}

// ParameterDefault holds the values used for omitted command parameters.
type ParameterDefault struct {
	Speed     float64 `yaml:"speed"`
	Direction int     `yaml:"direction"`
	Turns     float64 `yaml:"turns"`
	Distance  float64 `yaml:"distance"`
	Position  float64 `yaml:"position"`
}

// WorkflowConfig configures the remote streaming workflow.
type WorkflowConfig struct {
	ID         string `yaml:"id"`
	BaseURL    string `yaml:"baseUrl"`
	Token      string `yaml:"token"`
	CurlPath   string `yaml:"curlPath"`
	HeadInput  string `yaml:"headInput"`
	ResumeData string `yaml:"resumeData"`

	MaxResumes       int           `yaml:"maxResumes"`
	LaunchAttempts   int           `yaml:"launchAttempts"`
	ReconnectInitial time.Duration `yaml:"reconnectInitial"`
	ReconnectBackoff float64       `yaml:"reconnectBackoff"`
	ReconnectMax     time.Duration `yaml:"reconnectMax"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Auth            AuthConfig    `yaml:"auth"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Algorithm     string `yaml:"algorithm"` // HS256 or RS256
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	Issuer        string `yaml:"issuer"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			File: FileLogConfig{
				Path:       "logs/mcc.log",
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 14,
				Compress:   true,
			},
		},
		Motors: MotorsConfig{
			Ports:              []string{"A", "B", "C", "D"},
			WheelCircumference: 17.5,
			Driver:             "sim",
			ErrorFamily:        "buildhat",
			Sim: SimConfig{
				RatedDPS: 600,
			},
			Defaults: ParameterDefault{
				Speed:     50,
				Direction: 1,
				Turns:     1,
				Distance:  10,
				Position:  0,
			},
		},
		Timing: LoadTimingBaseline(),
		Workflow: WorkflowConfig{
			BaseURL:          "https://api.coze.cn",
			CurlPath:         "curl",
			ResumeData:       "next",
			MaxResumes:       64,
			LaunchAttempts:   5,
			ReconnectInitial: 500 * time.Millisecond,
			ReconnectBackoff: 2.0,
			ReconnectMax:     10 * time.Second,
		},
		API: APIConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			Auth: AuthConfig{
				Algorithm: "HS256",
			},
		},
		Audit: AuditConfig{
			Path:       "logs/audit.jsonl",
			MaxSizeMB:  20,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
	}
}
