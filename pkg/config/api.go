package config

import "fmt"

// APIConfig contains the read-only table API server configuration.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ValidateAPI checks the configuration needed by the serve command.
func (c *Config) ValidateAPI() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must be at least 1")
	}

	return nil
}
