package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postqueue.db", cfg.Database.Path)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.Dispatch.DeliveryTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Dispatch.MaxBackoff())
	assert.Equal(t, 90, cfg.Schedule.SearchHorizonDays)
	assert.Equal(t, 15*time.Minute, cfg.Reminder.LeadWindow())
}

func TestDefaultPolicyCoversAllPlatforms(t *testing.T) {
	cfg := defaultConfig(t)

	require.Contains(t, cfg.Policy, "linkedin")
	require.Contains(t, cfg.Policy, "twitter")
	require.Contains(t, cfg.Policy, "instagram")

	assert.Equal(t, 10, cfg.Policy["linkedin"].MaxPerWindow)
	assert.Equal(t, "09:00", cfg.Policy["linkedin"].PreferredTimeOfDay)
	assert.Equal(t, 30, cfg.Policy["twitter"].MaxPerWindow)
	assert.True(t, cfg.Policy["instagram"].Manual)
	assert.Equal(t, 0, cfg.Policy["instagram"].MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sweep interval", func(c *Config) { c.Dispatch.SweepIntervalSeconds = 0 }},
		{"zero delivery timeout", func(c *Config) { c.Dispatch.DeliveryTimeoutSeconds = 0 }},
		{"zero horizon", func(c *Config) { c.Schedule.SearchHorizonDays = 0 }},
		{"negative lead", func(c *Config) { c.Reminder.LeadMinutes = -1 }},
		{"temperature out of range", func(c *Config) { c.Generator.Temperature = 3.5 }},
		{"zero window cap", func(c *Config) {
			p := c.Policy["twitter"]
			p.MaxPerWindow = 0
			c.Policy["twitter"] = p
		}},
		{"negative retries", func(c *Config) {
			p := c.Policy["linkedin"]
			p.MaxRetries = -1
			c.Policy["linkedin"] = p
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "custom.db"

[dispatch]
sweep_interval_seconds = 5

[policy.twitter]
max_per_window = 7
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.SweepInterval())
	assert.Equal(t, 7, cfg.Policy["twitter"].MaxPerWindow)

	// Untouched keys keep their defaults
	assert.Equal(t, 90, cfg.Schedule.SearchHorizonDays)
	assert.Equal(t, "12:00", cfg.Policy["twitter"].PreferredTimeOfDay)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
