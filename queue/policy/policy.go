// Package policy defines the static per-platform posting policy table.
//
// The table is read-only configuration: posting-rate ceiling, preferred
// time-of-day, retry policy, and delivery mode per platform. It has no side
// effects and no mutable state.
package policy

import (
	"sort"
	"sync"
	"time"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
)

// Platform identifies a supported social platform
type Platform string

// The fixed platform enumeration. Posts targeting anything else are
// rejected at creation.
const (
	LinkedIn  Platform = "linkedin"
	Twitter   Platform = "twitter"
	Instagram Platform = "instagram"
)

// Valid returns true if the platform is in the fixed enumeration
func (p Platform) Valid() bool {
	switch p {
	case LinkedIn, Twitter, Instagram:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}

// Parse converts a platform name to a Platform, failing with
// ErrUnknownPlatform for anything outside the enumeration.
func Parse(name string) (Platform, error) {
	p := Platform(name)
	if !p.Valid() {
		return "", errors.Wrapf(errors.ErrUnknownPlatform, "%q", name)
	}
	return p, nil
}

// Policy is the per-platform posting policy
type Policy struct {
	MaxPerWindow  int           // posts allowed per rolling window
	Window        time.Duration // rolling window duration
	PreferredHour int           // preferred time-of-day for auto-assigned slots
	PreferredMin  int
	MaxRetries    int           // automatic retry budget for delivery failures
	BackoffBase   time.Duration // first retry delay; doubles per attempt
	Cooldown      time.Duration // minimum spacing between outbound deliveries
	Manual        bool          // manual-delivery workflow (no API channel)
}

// PreferredAt returns the policy's preferred time-of-day on the given day
func (p Policy) PreferredAt(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), p.PreferredHour, p.PreferredMin, 0, 0, day.Location())
}

// Table holds the policy for every platform in the enumeration. Reload
// swaps the whole set atomically, so a config hot-reload never exposes a
// half-updated table.
type Table struct {
	mu       sync.RWMutex
	policies map[Platform]Policy
}

// NewTable builds a policy table from configuration. Every platform in the
// enumeration must have a policy; config keys outside the enumeration are
// rejected so typos surface at startup rather than at dispatch time.
func NewTable(cfg map[string]config.PolicyConfig) (*Table, error) {
	policies, err := buildPolicies(cfg)
	if err != nil {
		return nil, err
	}
	return &Table{policies: policies}, nil
}

func buildPolicies(cfg map[string]config.PolicyConfig) (map[Platform]Policy, error) {
	policies := make(map[Platform]Policy, len(cfg))

	for name, pc := range cfg {
		platform, err := Parse(name)
		if err != nil {
			return nil, errors.Wrapf(err, "policy config key %q", name)
		}

		hour, min, err := parseTimeOfDay(pc.PreferredTimeOfDay)
		if err != nil {
			return nil, errors.Wrapf(err, "policy.%s.preferred_time", name)
		}

		policies[platform] = Policy{
			MaxPerWindow:  pc.MaxPerWindow,
			Window:        time.Duration(pc.WindowHours) * time.Hour,
			PreferredHour: hour,
			PreferredMin:  min,
			MaxRetries:    pc.MaxRetries,
			BackoffBase:   time.Duration(pc.BackoffBaseSeconds) * time.Second,
			Cooldown:      time.Duration(pc.CooldownMinutes) * time.Minute,
			Manual:        pc.Manual,
		}
	}

	for _, platform := range []Platform{LinkedIn, Twitter, Instagram} {
		if _, ok := policies[platform]; !ok {
			return nil, errors.Newf("missing policy for platform %q", platform)
		}
	}

	return policies, nil
}

// Reload replaces the table contents from fresh configuration. Invalid
// configuration leaves the current table untouched.
func (t *Table) Reload(cfg map[string]config.PolicyConfig) error {
	policies, err := buildPolicies(cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.policies = policies
	t.mu.Unlock()
	return nil
}

// PolicyFor returns the policy for a platform, failing with
// ErrUnknownPlatform if the platform is not in the fixed enumeration.
func (t *Table) PolicyFor(platform Platform) (Policy, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.policies[platform]
	if !ok {
		return Policy{}, errors.Wrapf(errors.ErrUnknownPlatform, "%q", platform)
	}
	return p, nil
}

// Platforms returns the configured platforms in stable (sorted) order
func (t *Table) Platforms() []Platform {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Platform, 0, len(t.policies))
	for p := range t.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// parseTimeOfDay parses "HH:MM" into hour and minute
func parseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid time of day %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
