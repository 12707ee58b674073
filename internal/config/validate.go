package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLease(); err != nil {
		return err
	}
	if err := c.validateOperator(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLease() error {
	if err := ensurePositiveMap(map[string]int{
		"lease.ttl_seconds":             c.Lease.TTLSeconds,
		"lease.renew_interval_seconds":  c.Lease.RenewIntervalSeconds,
		"lease.request_timeout_seconds": c.Lease.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Lease.TTLSeconds < minTTLRenewRatio*c.Lease.RenewIntervalSeconds {
		return fmt.Errorf("lease.ttl_seconds (%d) must be at least %d times lease.renew_interval_seconds (%d)",
			c.Lease.TTLSeconds, minTTLRenewRatio, c.Lease.RenewIntervalSeconds)
	}
	if c.Lease.RequestTimeoutSeconds >= c.Lease.RenewIntervalSeconds {
		return errors.New("lease.request_timeout_seconds must be shorter than lease.renew_interval_seconds")
	}
	return nil
}

func (c *Config) validateOperator() error {
	parsed, err := url.Parse(c.Operator.ServerURL)
	if err != nil {
		return fmt.Errorf("operator.server_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("operator.server_url must use http or https, got %q", c.Operator.ServerURL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
