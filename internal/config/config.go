// Package config provides configuration management for the execution engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/marion205/richesreach-broker/internal/guardrail"
)

const (
	// defaultRefreshInterval is used when schedule.refresh_interval is unset
	defaultRefreshInterval = "30s"
	// defaultCallTimeout is used when broker.call_timeout is unset
	defaultCallTimeout = "10s"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Guardrails  GuardrailConfig   `yaml:"guardrails"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	APIEndpoint string `yaml:"api_endpoint"`
	DataURL     string `yaml:"data_url"`
	AccountID   string `yaml:"account_id"`
	CallTimeout string `yaml:"call_timeout"`
}

// GuardrailConfig defines policy-gate limits.
type GuardrailConfig struct {
	MaxPerOrderNotional float64  `yaml:"max_per_order_notional"`
	MaxDailyNotional    float64  `yaml:"max_daily_notional"`
	Whitelist           []string `yaml:"whitelist"`
	// SerializePerAccount turns the daily-notional soft limit into a hard one
	// at the cost of serializing submissions per account.
	SerializePerAccount bool `yaml:"serialize_per_account"`
}

// WebhookConfig defines the broker callback listener.
type WebhookConfig struct {
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

// DashboardConfig defines the operator dashboard server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// ScheduleConfig defines the broker sync cadence.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// StorageConfig defines storage paths for the order mirror and audit log.
type StorageConfig struct {
	Path      string `yaml:"path"`
	AuditPath string `yaml:"audit_path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	if _, err := time.ParseDuration(c.Broker.CallTimeout); err != nil {
		return fmt.Errorf("broker.call_timeout invalid: %w", err)
	}

	if c.Guardrails.MaxPerOrderNotional <= 0 {
		return fmt.Errorf("guardrails.max_per_order_notional must be > 0")
	}
	if c.Guardrails.MaxDailyNotional <= 0 {
		return fmt.Errorf("guardrails.max_daily_notional must be > 0")
	}
	if c.Guardrails.MaxPerOrderNotional > c.Guardrails.MaxDailyNotional {
		return fmt.Errorf("guardrails.max_per_order_notional (%.2f) must be <= guardrails.max_daily_notional (%.2f)",
			c.Guardrails.MaxPerOrderNotional, c.Guardrails.MaxDailyNotional)
	}

	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be a valid port")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if c.Dashboard.Enabled {
		if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard.port must be a valid port")
		}
		if c.Dashboard.Port == c.Webhook.Port {
			return fmt.Errorf("dashboard.port must differ from webhook.port")
		}
	}

	if _, err := time.ParseDuration(c.Schedule.RefreshInterval); err != nil {
		return fmt.Errorf("schedule.refresh_interval invalid: %w", err)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.AuditPath == "" {
		return fmt.Errorf("storage.audit_path is required")
	}

	return nil
}

func (c *Config) normalize() {
	if c.Guardrails.MaxPerOrderNotional == 0 {
		c.Guardrails.MaxPerOrderNotional = guardrail.DefaultMaxPerOrderNotional
	}
	if c.Guardrails.MaxDailyNotional == 0 {
		c.Guardrails.MaxDailyNotional = guardrail.DefaultMaxDailyNotional
	}
	if c.Schedule.RefreshInterval == "" {
		c.Schedule.RefreshInterval = defaultRefreshInterval
	}
	if c.Broker.CallTimeout == "" {
		c.Broker.CallTimeout = defaultCallTimeout
	}
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetRefreshInterval returns the configured broker sync interval.
func (c *Config) GetRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.RefreshInterval)
	if err != nil {
		return 30 * time.Second // default
	}
	return d
}

// GetCallTimeout returns the configured broker call timeout.
func (c *Config) GetCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.CallTimeout)
	if err != nil {
		return 10 * time.Second // default
	}
	return d
}
