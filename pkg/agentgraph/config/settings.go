package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Checkpoint backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Settings is the typed configuration of an agent run.
type Settings struct {
	Strategy   StrategySettings   `mapstructure:"strategy"`
	Model      ModelSettings      `mapstructure:"model"`
	Checkpoint CheckpointSettings `mapstructure:"checkpoint"`
	Log        LogSettings        `mapstructure:"log"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
}

// StrategySettings bounds the interpreter and tool dispatch.
type StrategySettings struct {
	MaxIterations int    `mapstructure:"max_iterations" validate:"gte=1"`
	ToolMode      string `mapstructure:"tool_mode" validate:"oneof=sequential parallel"`
	// Parallelism caps concurrent tool calls in parallel mode. 0 = unlimited.
	Parallelism  int    `mapstructure:"parallelism" validate:"gte=0"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ModelSettings configures the model client.
type ModelSettings struct {
	Name        string  `mapstructure:"name" validate:"required"`
	BaseURL     string  `mapstructure:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string  `mapstructure:"api_key_env"`
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gte=0"`

	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	// RequestsPerSecond rate-limits model calls. 0 = unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (m ModelSettings) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// CheckpointSettings selects and configures the checkpoint store.
type CheckpointSettings struct {
	Backend string `mapstructure:"backend" validate:"oneof=none memory sqlite badger mysql redis"`
	// Path is the SQLite file or Badger directory.
	Path string `mapstructure:"path"`
	// DSN is the MySQL data source name.
	DSN string `mapstructure:"dsn"`
	// Redis connection.
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`

	Continuous bool   `mapstructure:"continuous"`
	AgentID    string `mapstructure:"agent_id"`
}

// LogSettings configures slog output.
type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TelemetrySettings toggles metrics and tracing.
type TelemetrySettings struct {
	Metrics bool `mapstructure:"metrics"`
	Tracing bool `mapstructure:"tracing"`
	// PrometheusAddr serves /metrics when set, e.g. ":9090".
	PrometheusAddr string `mapstructure:"prometheus_addr"`
}

// DefaultSettings returns settings usable without a config file.
func DefaultSettings() Settings {
	return Settings{
		Strategy: StrategySettings{
			MaxIterations: 1000,
			ToolMode:      "sequential",
		},
		Model: ModelSettings{
			Name:       "gpt-4o-mini",
			APIKeyEnv:  "OPENAI_API_KEY",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Checkpoint: CheckpointSettings{
			Backend: BackendMemory,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

var settingsValidate = validator.New()

// Validate checks field constraints and backend-specific requirements.
func (s Settings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	cp := s.Checkpoint
	switch cp.Backend {
	case BackendSQLite, BackendBadger:
		if cp.Path == "" {
			return fmt.Errorf("invalid settings: checkpoint.path is required for %s backend", cp.Backend)
		}
	case BackendMySQL:
		if cp.DSN == "" {
			return errors.New("invalid settings: checkpoint.dsn is required for mysql backend")
		}
	case BackendRedis:
		if cp.Addr == "" {
			return errors.New("invalid settings: checkpoint.addr is required for redis backend")
		}
	}
	if cp.Continuous && cp.Backend == BackendNone {
		return errors.New("invalid settings: continuous checkpointing needs a checkpoint backend")
	}
	return nil
}

// Sections lists the top-level keys of Settings.
var Sections = []string{"strategy", "model", "checkpoint", "log", "telemetry"}

// Decode decodes src over the defaults and validates the result. Unknown
// keys are errors.
// String values (as set from the environment) are converted to the
// field types; durations accept time.ParseDuration syntax.
func Decode(src Source) (Settings, error) {
	settings := DefaultSettings()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Settings{}, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(src)); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// LoadSettings reads path (YAML or JSON), overlays AGENTGRAPH_ environment
// variables and decodes the result. An empty path loads defaults plus
// environment overrides.
func LoadSettings(path string) (Settings, error) {
	src := Source{}
	if path != "" {
		var err error
		if src, err = ReadFile(path); err != nil {
			return Settings{}, err
		}
	}
	src.Overlay(EnvPrefix, os.Environ(), Sections...)
	return Decode(src)
}
