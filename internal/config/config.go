// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Semantic SemanticConfig `mapstructure:"semantic" yaml:"semantic"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// TracingConfig toggles the OpenTelemetry span exporter.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	PrettyPrint bool    `mapstructure:"pretty_print" yaml:"pretty_print"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// DatabaseConfig holds the connection string for the finder diagnostics store.
// An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig describes how the CLI reaches a browser.
type BrowserConfig struct {
	// RemoteURL is a DevTools websocket/HTTP endpoint of an already running
	// browser. When empty a local browser is launched.
	RemoteURL   string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath    string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// EngineConfig tunes the resolution and interaction engine.
type EngineConfig struct {
	DocumentReadyMaxRounds int           `mapstructure:"document_ready_max_rounds" yaml:"document_ready_max_rounds"`
	DocumentReadyInterval  time.Duration `mapstructure:"document_ready_interval" yaml:"document_ready_interval"`
	StableCheckMaxRounds   int           `mapstructure:"stable_check_max_rounds" yaml:"stable_check_max_rounds"`
	StableCheckInterval    time.Duration `mapstructure:"stable_check_interval" yaml:"stable_check_interval"`
	KeyPressDelay          time.Duration `mapstructure:"key_press_delay" yaml:"key_press_delay"`
	ClickType              string        `mapstructure:"click_type" yaml:"click_type"`
	SemanticTimeout        time.Duration `mapstructure:"semantic_timeout" yaml:"semantic_timeout"`
}

// SemanticConfig configures the model backed semantic classifier.
type SemanticConfig struct {
	Enabled       bool               `mapstructure:"enabled" yaml:"enabled"`
	Model         string             `mapstructure:"model" yaml:"model"`
	APIKey        string             `mapstructure:"api_key" yaml:"-"`
	Endpoint      string             `mapstructure:"endpoint" yaml:"endpoint"` // base URL override, e.g. a proxy
	APITimeout    time.Duration      `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32            `mapstructure:"temperature" yaml:"temperature"`
	MaxCandidates int                `mapstructure:"max_candidates" yaml:"max_candidates"`
	Overrides     []SemanticOverride `mapstructure:"overrides" yaml:"overrides"`
}

// SemanticOverride reports a control for a role and objective by its
// autocomplete attribute, without asking the model.
type SemanticOverride struct {
	Role         int32  `mapstructure:"role" yaml:"role"`
	Objective    int32  `mapstructure:"objective" yaml:"objective"`
	Autocomplete string `mapstructure:"autocomplete" yaml:"autocomplete"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "actuator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.pretty_print", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.call_timeout", "30s")

	// -- Engine --
	v.SetDefault("engine.document_ready_max_rounds", 50)
	v.SetDefault("engine.document_ready_interval", "200ms")
	v.SetDefault("engine.stable_check_max_rounds", 50)
	v.SetDefault("engine.stable_check_interval", "200ms")
	v.SetDefault("engine.key_press_delay", "20ms")
	v.SetDefault("engine.click_type", "click")
	v.SetDefault("engine.semantic_timeout", "5s")

	// -- Semantic --
	v.SetDefault("semantic.enabled", false)
	v.SetDefault("semantic.model", "gemini-2.5-flash")
	v.SetDefault("semantic.api_timeout", "20s")
	v.SetDefault("semantic.temperature", 0.0)
	v.SetDefault("semantic.max_candidates", 200)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("semantic.api_key", "ACTUATOR_SEMANTIC_API_KEY")
	_ = v.BindEnv("database.url", "ACTUATOR_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the SDK's conventional variable for the model key.
	if cfg.Semantic.Enabled && cfg.Semantic.APIKey == "" {
		cfg.Semantic.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.Semantic.Validate(); err != nil {
		return fmt.Errorf("semantic configuration invalid: %w", err)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the engine timing parameters.
func (e *EngineConfig) Validate() error {
	if e.DocumentReadyMaxRounds <= 0 {
		return fmt.Errorf("document_ready_max_rounds must be a positive integer")
	}
	if e.StableCheckMaxRounds <= 0 {
		return fmt.Errorf("stable_check_max_rounds must be a positive integer")
	}
	if e.DocumentReadyInterval < 0 || e.StableCheckInterval < 0 || e.KeyPressDelay < 0 {
		return fmt.Errorf("intervals and delays must not be negative")
	}
	switch e.ClickType {
	case "", "click", "tap", "javascript":
	default:
		return fmt.Errorf("click_type must be one of click, tap, javascript (got %q)", e.ClickType)
	}
	return nil
}

// Validate checks the semantic classifier settings.
func (s *SemanticConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	for i, o := range s.Overrides {
		if strings.TrimSpace(o.Autocomplete) == "" {
			return fmt.Errorf("overrides[%d]: autocomplete is required", i)
		}
	}
	if s.Model == "" {
		return fmt.Errorf("model is required when the semantic classifier is enabled")
	}
	if s.APIKey == "" {
		return fmt.Errorf("API key is required but not found. Ensure ACTUATOR_SEMANTIC_API_KEY is set")
	}
	return nil
}
