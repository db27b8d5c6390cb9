package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
)

func fullConfig() map[string]config.PolicyConfig {
	return map[string]config.PolicyConfig{
		"linkedin":  {MaxPerWindow: 10, WindowHours: 24, PreferredTimeOfDay: "09:00", MaxRetries: 3, BackoffBaseSeconds: 3600, CooldownMinutes: 6},
		"twitter":   {MaxPerWindow: 30, WindowHours: 24, PreferredTimeOfDay: "12:00", MaxRetries: 3, BackoffBaseSeconds: 1800, CooldownMinutes: 2},
		"instagram": {MaxPerWindow: 3, WindowHours: 24, PreferredTimeOfDay: "18:00", Manual: true, CooldownMinutes: 30},
	}
}

func TestNewTable(t *testing.T) {
	table, err := NewTable(fullConfig())
	require.NoError(t, err)

	pol, err := table.PolicyFor(LinkedIn)
	require.NoError(t, err)
	assert.Equal(t, 10, pol.MaxPerWindow)
	assert.Equal(t, 24*time.Hour, pol.Window)
	assert.Equal(t, 9, pol.PreferredHour)
	assert.Equal(t, 0, pol.PreferredMin)
	assert.Equal(t, time.Hour, pol.BackoffBase)
	assert.Equal(t, 6*time.Minute, pol.Cooldown)
	assert.False(t, pol.Manual)

	ig, err := table.PolicyFor(Instagram)
	require.NoError(t, err)
	assert.True(t, ig.Manual)
}

func TestNewTableRejectsUnknownPlatformKey(t *testing.T) {
	cfg := fullConfig()
	cfg["myspace"] = config.PolicyConfig{MaxPerWindow: 1, WindowHours: 24, PreferredTimeOfDay: "10:00"}

	_, err := NewTable(cfg)
	assert.ErrorIs(t, err, errors.ErrUnknownPlatform)
}

func TestNewTableRequiresEveryPlatform(t *testing.T) {
	cfg := fullConfig()
	delete(cfg, "instagram")

	_, err := NewTable(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instagram")
}

func TestNewTableRejectsBadTimeOfDay(t *testing.T) {
	cfg := fullConfig()
	pc := cfg["twitter"]
	pc.PreferredTimeOfDay = "noon"
	cfg["twitter"] = pc

	_, err := NewTable(cfg)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	p, err := Parse("twitter")
	require.NoError(t, err)
	assert.Equal(t, Twitter, p)

	_, err = Parse("myspace")
	assert.ErrorIs(t, err, errors.ErrUnknownPlatform)
}

func TestPreferredAt(t *testing.T) {
	pol := Policy{PreferredHour: 9, PreferredMin: 30}
	day := time.Date(2026, 9, 15, 22, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 15, 9, 30, 0, 0, time.UTC), pol.PreferredAt(day))
}

func TestPlatformsSorted(t *testing.T) {
	table, err := NewTable(fullConfig())
	require.NoError(t, err)
	assert.Equal(t, []Platform{Instagram, LinkedIn, Twitter}, table.Platforms())
}

func TestReload(t *testing.T) {
	table, err := NewTable(fullConfig())
	require.NoError(t, err)

	cfg := fullConfig()
	pc := cfg["twitter"]
	pc.MaxPerWindow = 5
	cfg["twitter"] = pc
	require.NoError(t, table.Reload(cfg))

	pol, err := table.PolicyFor(Twitter)
	require.NoError(t, err)
	assert.Equal(t, 5, pol.MaxPerWindow)

	// Invalid reload keeps the current table
	bad := fullConfig()
	delete(bad, "linkedin")
	require.Error(t, table.Reload(bad))

	_, err = table.PolicyFor(LinkedIn)
	assert.NoError(t, err)
}
