package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
	"github.com/sawpanic/postlaunch/internal/net/breaker"
	"github.com/sawpanic/postlaunch/internal/net/ratelimit"
)

// Endpoint is one outbound collaborator host
type Endpoint struct {
	Name  string  `yaml:"name"`
	URL   string  `yaml:"url"`
	RPS   float64 `yaml:"rps"`   // 0 disables rate limiting
	Burst int     `yaml:"burst"` // Burst capacity
}

// Validate ensures an endpoint is usable
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", e.URL)
	}
	if e.RPS < 0 {
		return fmt.Errorf("rps cannot be negative, got %g", e.RPS)
	}
	if e.RPS > 0 && float64(e.Burst) < e.RPS {
		return fmt.Errorf("burst (%d) must be >= rps (%g)", e.Burst, e.RPS)
	}
	return nil
}

// Limiter returns a per-host limiter, or nil when the endpoint is unlimited
func (e Endpoint) Limiter() *ratelimit.Limiter {
	if e.RPS <= 0 {
		return nil
	}
	return ratelimit.NewLimiter(e.RPS, e.Burst)
}

// ClientConfig is the shared HTTP client configuration for outbound calls
type ClientConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        BackoffConfig `yaml:"backoff"`
	UserAgent      string        `yaml:"user_agent"`
}

// BackoffConfig represents exponential backoff between retries
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// Validate ensures backoff configuration is valid
func (b BackoffConfig) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base must be positive, got %s", b.Base)
	}
	if b.Max < b.Base {
		return fmt.Errorf("max (%s) must be >= base (%s)", b.Max, b.Base)
	}
	return nil
}

// Validate ensures the client configuration is valid
func (c ClientConfig) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	return nil
}

// Pool builds the HTTP client settings for one named collaborator
func (c ClientConfig) Pool(name string, limiter *ratelimit.Limiter) httpclient.ClientConfig {
	return httpclient.ClientConfig{
		Name:           name,
		MaxConcurrency: c.MaxConcurrency,
		RequestTimeout: c.RequestTimeout,
		MaxRetries:     c.MaxRetries,
		BackoffBase:    c.Backoff.Base,
		BackoffMax:     c.Backoff.Max,
		UserAgent:      c.UserAgent,
		Limiter:        limiter,
	}
}

// BreakerConfig represents the relay circuit breaker policy
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	MinRequests         uint32        `yaml:"min_requests"`
	FailureRatio        float64       `yaml:"failure_ratio"`
	Interval            time.Duration `yaml:"interval"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// Validate ensures circuit breaker configuration is valid
func (b BreakerConfig) Validate() error {
	if b.ConsecutiveFailures == 0 {
		return fmt.Errorf("consecutive_failures must be positive")
	}
	if b.FailureRatio < 0 || b.FailureRatio > 1 {
		return fmt.Errorf("failure_ratio must be between 0 and 1, got %g", b.FailureRatio)
	}
	if b.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be positive, got %s", b.OpenTimeout)
	}
	return nil
}

// Breaker converts to the breaker package settings
func (b BreakerConfig) Breaker() breaker.Config {
	return breaker.Config{
		ConsecutiveFailures: b.ConsecutiveFailures,
		MinRequests:         b.MinRequests,
		FailureRatio:        b.FailureRatio,
		Interval:            b.Interval,
		Timeout:             b.OpenTimeout,
	}
}
