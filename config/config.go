// Package config loads and validates the postqueue configuration.
//
// Configuration is merged from (lowest to highest precedence): built-in
// defaults, ~/.postqueue/config.toml, a project-local postqueue.toml, and
// POSTQUEUE_* environment variables.
package config

import (
	"time"
)

// Config represents the postqueue configuration
type Config struct {
	Database  DatabaseConfig          `mapstructure:"database"`
	Server    ServerConfig            `mapstructure:"server"`
	Dispatch  DispatchConfig          `mapstructure:"dispatch"`
	Schedule  ScheduleConfig          `mapstructure:"schedule"`
	Reminder  ReminderConfig          `mapstructure:"reminder"`
	Delivery  DeliveryConfig          `mapstructure:"delivery"`
	Generator GeneratorConfig         `mapstructure:"generator"`
	Policy    map[string]PolicyConfig `mapstructure:"policy"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the operator HTTP API
type ServerConfig struct {
	Listen         string   `mapstructure:"listen"` // e.g. "127.0.0.1:8420"; empty = API disabled
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DispatchConfig configures the delivery dispatcher sweep
type DispatchConfig struct {
	SweepIntervalSeconds   int `mapstructure:"sweep_interval_seconds"`   // how often to look for due posts (default: 60)
	DeliveryTimeoutSeconds int `mapstructure:"delivery_timeout_seconds"` // per-attempt bound on the delivery call (default: 30)
	MaxBackoffHours        int `mapstructure:"max_backoff_hours"`        // cap on exponential retry delay (default: 24)
}

// ScheduleConfig configures the scheduling engine
type ScheduleConfig struct {
	SearchHorizonDays int `mapstructure:"search_horizon_days"` // slot search bound before NoCapacity (default: 90)
}

// ReminderConfig configures the reminder emitter
type ReminderConfig struct {
	LeadMinutes         int `mapstructure:"lead_minutes"`          // remind this long before scheduled_at (default: 15)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // default: 60
}

// DeliveryConfig configures the Buffer-style delivery channel
type DeliveryConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	AccessToken string            `mapstructure:"access_token"` // env: POSTQUEUE_DELIVERY_ACCESS_TOKEN
	Profiles    map[string]string `mapstructure:"profiles"`     // platform name -> account profile id
}

// GeneratorConfig configures the content-generation collaborator
// (an OpenAI-compatible chat-completions endpoint)
type GeneratorConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"` // env: POSTQUEUE_GENERATOR_API_KEY
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// PolicyConfig overrides the per-platform posting policy.
// The rate figures ship as example values, not verified platform limits.
type PolicyConfig struct {
	MaxPerWindow       int    `mapstructure:"max_per_window"`       // posts allowed per rolling window
	WindowHours        int    `mapstructure:"window_hours"`         // rolling window duration
	PreferredTimeOfDay string `mapstructure:"preferred_time"`       // "HH:MM", local time
	MaxRetries         int    `mapstructure:"max_retries"`          // automatic retry budget
	BackoffBaseSeconds int    `mapstructure:"backoff_base_seconds"` // first retry delay
	CooldownMinutes    int    `mapstructure:"cooldown_minutes"`     // minimum spacing between outbound deliveries
	Manual             bool   `mapstructure:"manual"`               // manual-delivery workflow (no API channel)
}

// SweepInterval returns the dispatcher sweep interval as a duration
func (c DispatchConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// DeliveryTimeout returns the per-attempt delivery bound as a duration
func (c DispatchConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap as a duration
func (c DispatchConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffHours) * time.Hour
}

// LeadWindow returns the reminder lead window as a duration
func (c ReminderConfig) LeadWindow() time.Duration {
	return time.Duration(c.LeadMinutes) * time.Minute
}

// PollInterval returns the reminder poll interval as a duration
func (c ReminderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
