package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "postqueue.db")

	// Operator API defaults (empty listen address = API disabled)
	v.SetDefault("server.listen", "")
	v.SetDefault("server.allowed_origins", []string{})

	// Dispatcher defaults
	v.SetDefault("dispatch.sweep_interval_seconds", 60)
	v.SetDefault("dispatch.delivery_timeout_seconds", 30)
	v.SetDefault("dispatch.max_backoff_hours", 24)

	// Scheduling engine defaults
	v.SetDefault("schedule.search_horizon_days", 90)

	// Reminder defaults
	v.SetDefault("reminder.lead_minutes", 15)
	v.SetDefault("reminder.poll_interval_seconds", 60)

	// Delivery channel defaults
	v.SetDefault("delivery.base_url", "https://api.bufferapp.com/1")

	// Content generator defaults
	v.SetDefault("generator.base_url", "https://api.openai.com/v1")
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("generator.max_tokens", 1000)
	v.SetDefault("generator.timeout_seconds", 120)

	// Per-platform policy defaults.
	// Rate figures mirror the marketing defaults of the original deployment;
	// they are configuration, not verified platform limits.
	v.SetDefault("policy.linkedin.max_per_window", 10)
	v.SetDefault("policy.linkedin.window_hours", 24)
	v.SetDefault("policy.linkedin.preferred_time", "09:00")
	v.SetDefault("policy.linkedin.max_retries", 3)
	v.SetDefault("policy.linkedin.backoff_base_seconds", 3600)
	v.SetDefault("policy.linkedin.cooldown_minutes", 6)
	v.SetDefault("policy.linkedin.manual", false)

	v.SetDefault("policy.twitter.max_per_window", 30)
	v.SetDefault("policy.twitter.window_hours", 24)
	v.SetDefault("policy.twitter.preferred_time", "12:00")
	v.SetDefault("policy.twitter.max_retries", 3)
	v.SetDefault("policy.twitter.backoff_base_seconds", 1800)
	v.SetDefault("policy.twitter.cooldown_minutes", 2)
	v.SetDefault("policy.twitter.manual", false)

	// Instagram has no API delivery channel here: manual posting workflow
	v.SetDefault("policy.instagram.max_per_window", 3)
	v.SetDefault("policy.instagram.window_hours", 24)
	v.SetDefault("policy.instagram.preferred_time", "18:00")
	v.SetDefault("policy.instagram.max_retries", 0)
	v.SetDefault("policy.instagram.backoff_base_seconds", 3600)
	v.SetDefault("policy.instagram.cooldown_minutes", 30)
	v.SetDefault("policy.instagram.manual", true)
}

// BindSensitiveEnvVars binds credential values to environment variables so
// they never need to live in the config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("delivery.access_token", "POSTQUEUE_DELIVERY_ACCESS_TOKEN")
	v.BindEnv("generator.api_key", "POSTQUEUE_GENERATOR_API_KEY")
}
