package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Phyn client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Brand   string        `yaml:"brand"`
	API     APIConfig     `yaml:"api"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig contains Phyn REST API settings.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout int    `yaml:"request_timeout"`
	TokenBuffer    int    `yaml:"token_buffer"`
}

// MQTTConfig contains MQTT client behaviour settings.
//
// The broker host and path are not configured statically: they are
// discovered per connection attempt through the token-gated endpoint
// discovery call.
type MQTTConfig struct {
	Port            int                 `yaml:"port"`
	QoS             int                 `yaml:"qos"`
	KeepAlive       int                 `yaml:"keep_alive"`
	ConnectTimeout  int                 `yaml:"connect_timeout"`
	AckTimeout      int                 `yaml:"ack_timeout"`
	EndpointTimeout int                 `yaml:"endpoint_timeout"`
	Reconnect       MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// HistoryConfig contains the optional device-state history store settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PHYN_SECTION_KEY
// For example: PHYN_API_BASE_URL, PHYN_HISTORY_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults for the Phyn cloud.
func Default() *Config {
	return &Config{
		Brand: "phyn",
		API: APIConfig{
			BaseURL:        "https://api.phyn.com",
			RequestTimeout: 10,
			TokenBuffer:    60,
		},
		MQTT: MQTTConfig{
			Port:            443,
			QoS:             1,
			KeepAlive:       60,
			ConnectTimeout:  10,
			AckTimeout:      5,
			EndpointTimeout: 5,
			Reconnect: MQTTReconnectConfig{
				MaxAttempts: 20,
			},
		},
		History: HistoryConfig{
			Enabled:     false,
			Path:        "./data/phyn-history.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PHYN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PHYN_BRAND"); v != "" {
		cfg.Brand = v
	}
	if v := os.Getenv("PHYN_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("PHYN_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("PHYN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Brand) {
	case "phyn", "kohler":
	default:
		errs = append(errs, "brand must be phyn or kohler")
	}

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, "api.request_timeout must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "mqtt.reconnect.max_attempts must be at least 1")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the REST request timeout as a Duration.
func (c *APIConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetTokenBuffer returns the token expiration buffer as a Duration.
func (c *APIConfig) GetTokenBuffer() time.Duration {
	return time.Duration(c.TokenBuffer) * time.Second
}

// GetConnectTimeout returns the MQTT connect timeout as a Duration.
func (c *MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetAckTimeout returns the subscribe acknowledgment timeout as a Duration.
func (c *MQTTConfig) GetAckTimeout() time.Duration {
	return time.Duration(c.AckTimeout) * time.Second
}

// GetEndpointTimeout returns the endpoint discovery timeout as a Duration.
func (c *MQTTConfig) GetEndpointTimeout() time.Duration {
	return time.Duration(c.EndpointTimeout) * time.Second
}
