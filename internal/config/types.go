package config

import "time"

// Controller configures how the client reaches the prefill controller.
type Controller struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// Pacing tunes the animation pacing applied to instant item completions.
type Pacing struct {
	AnimationSeconds float64 `yaml:"animation_seconds"`
	TickMillis       int     `yaml:"tick_millis"`
	SettleMillis     int     `yaml:"settle_millis"`
}

// Recovery tunes reconnection recovery behavior.
type Recovery struct {
	RecencyMinutes float64 `yaml:"recency_minutes"`
	StalenessHours float64 `yaml:"staleness_hours"`
}

// Config represents the config.yaml file in the state directory.
type Config struct {
	Controller          Controller `yaml:"controller"`
	Pacing              Pacing     `yaml:"pacing"`
	Recovery            Recovery   `yaml:"recovery"`
	ReconnectSeconds    float64    `yaml:"reconnect_seconds"`
	NotificationSeconds float64    `yaml:"notification_seconds"`
}

// AnimationDuration returns the synthetic animation length.
func (c *Config) AnimationDuration() time.Duration {
	return time.Duration(c.Pacing.AnimationSeconds * float64(time.Second))
}

// TickInterval returns the animation tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Pacing.TickMillis) * time.Millisecond
}

// SettleDelay returns how long a finished animation rests at 100%.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Pacing.SettleMillis) * time.Millisecond
}

// RecencyWindow returns how far back a recovered completion may be
// and still be surfaced to the user.
func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.Recovery.RecencyMinutes * float64(time.Minute))
}

// StalenessBound returns the maximum age of a persisted operation mark.
func (c *Config) StalenessBound() time.Duration {
	return time.Duration(c.Recovery.StalenessHours * float64(time.Hour))
}

// ReconnectInterval returns the delay between redial attempts.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectSeconds * float64(time.Second))
}

// NotificationTimeout returns how long a completion notification stays
// visible before auto-dismissing.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.NotificationSeconds * float64(time.Second))
}
