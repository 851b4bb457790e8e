package ratelimit

import (
	"time"

	"live-timing/internal/common/errors"
)

// Config represents rate limiter configuration
type Config struct {
	// Core rate limiting settings
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
	Enabled           bool    `json:"enabled"`

	// Per-key settings
	PerKeyRequestsPerSecond float64       `json:"per_key_requests_per_second,omitempty"`
	PerKeyBurstSize         int           `json:"per_key_burst_size,omitempty"`
	MaxKeys                 int           `json:"max_keys,omitempty"`
	CleanupPeriod           time.Duration `json:"cleanup_period,omitempty"`
}

// Validate fills defaults and rejects impossible settings
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return errors.ConfigError("rate limit requests per second must be positive")
	}
	if c.BurstSize <= 0 {
		c.BurstSize = max(int(c.RequestsPerSecond), 1)
	}
	if c.PerKeyRequestsPerSecond <= 0 {
		c.PerKeyRequestsPerSecond = c.RequestsPerSecond
	}
	if c.PerKeyBurstSize <= 0 {
		c.PerKeyBurstSize = c.BurstSize
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 5 * time.Minute
	}
	return nil
}

// DefaultConfig returns a default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond:       20,
		BurstSize:               40,
		Enabled:                 true,
		PerKeyRequestsPerSecond: 5,
		PerKeyBurstSize:         10,
		MaxKeys:                 10000,
		CleanupPeriod:           5 * time.Minute,
	}
}
