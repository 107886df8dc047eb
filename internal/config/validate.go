package config

import "fmt"

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0 (got %v)", c.Auth.AccessTokenTTL)
	}
	if c.Governance.WatchInterval <= 0 {
		return fmt.Errorf("governance.watch_interval must be > 0 (got %v)", c.Governance.WatchInterval)
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxPerMinute <= 0 {
		return fmt.Errorf("rate_limit.max_per_minute must be > 0 when enabled (got %d)", c.RateLimit.MaxPerMinute)
	}
	return nil
}
