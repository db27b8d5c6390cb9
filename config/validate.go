package config

import "github.com/ardelis/postqueue/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Dispatch.SweepIntervalSeconds <= 0 {
		return errors.Newf("dispatch.sweep_interval_seconds must be > 0, got %d", c.Dispatch.SweepIntervalSeconds)
	}
	if c.Dispatch.DeliveryTimeoutSeconds <= 0 {
		return errors.Newf("dispatch.delivery_timeout_seconds must be > 0, got %d", c.Dispatch.DeliveryTimeoutSeconds)
	}
	if c.Dispatch.MaxBackoffHours <= 0 {
		return errors.Newf("dispatch.max_backoff_hours must be > 0, got %d", c.Dispatch.MaxBackoffHours)
	}

	if c.Schedule.SearchHorizonDays <= 0 {
		return errors.Newf("schedule.search_horizon_days must be > 0, got %d", c.Schedule.SearchHorizonDays)
	}

	if c.Reminder.LeadMinutes < 0 {
		return errors.Newf("reminder.lead_minutes must be >= 0, got %d", c.Reminder.LeadMinutes)
	}
	if c.Reminder.PollIntervalSeconds <= 0 {
		return errors.Newf("reminder.poll_interval_seconds must be > 0, got %d", c.Reminder.PollIntervalSeconds)
	}

	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return errors.Newf("generator.temperature must be in [0, 2], got %f", c.Generator.Temperature)
	}
	if c.Generator.TimeoutSeconds <= 0 {
		return errors.Newf("generator.timeout_seconds must be > 0, got %d", c.Generator.TimeoutSeconds)
	}

	for name, p := range c.Policy {
		if p.MaxPerWindow <= 0 {
			return errors.Newf("policy.%s.max_per_window must be > 0, got %d", name, p.MaxPerWindow)
		}
		if p.WindowHours <= 0 {
			return errors.Newf("policy.%s.window_hours must be > 0, got %d", name, p.WindowHours)
		}
		if p.MaxRetries < 0 {
			return errors.Newf("policy.%s.max_retries must be >= 0, got %d", name, p.MaxRetries)
		}
		if p.BackoffBaseSeconds <= 0 {
			return errors.Newf("policy.%s.backoff_base_seconds must be > 0, got %d", name, p.BackoffBaseSeconds)
		}
	}

	return nil
}
