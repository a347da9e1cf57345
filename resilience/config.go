package resilience

import (
	"fmt"
	"time"
)

// Config is the file form of the executor settings.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`

	RateLimit struct {
		Rate    float64       `yaml:"rate"`
		Burst   int           `yaml:"burst"`
		Wait    bool          `yaml:"wait"`
		MaxWait time.Duration `yaml:"max_wait"`
	} `yaml:"rate_limit"`

	Breaker struct {
		MaxFailures  int           `yaml:"max_failures"`
		ResetTimeout time.Duration `yaml:"reset_timeout"`
	} `yaml:"circuit_breaker"`

	MaxConcurrent int `yaml:"max_concurrent"`
}

// Validate rejects negative settings.
func (c Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("resilience: negative timeout %s", c.Timeout)
	case c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 || c.RateLimit.MaxWait < 0:
		return fmt.Errorf("resilience: negative rate limit setting")
	case c.Breaker.MaxFailures < 0 || c.Breaker.ResetTimeout < 0:
		return fmt.Errorf("resilience: negative circuit breaker setting")
	case c.MaxConcurrent < 0:
		return fmt.Errorf("resilience: negative max_concurrent %d", c.MaxConcurrent)
	}
	return nil
}

// NewExecutorFromConfig builds an Executor. Zero sections are left out, so a
// zero Config calls straight through. breaker receives the IsFailure and
// OnStateChange hooks, which have no file form.
func NewExecutorFromConfig(c Config, breaker CircuitBreakerConfig) (*Executor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var opts []ExecutorOption
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	if c.RateLimit.Rate > 0 {
		opts = append(opts, WithRateLimiter(NewRateLimiter(RateLimiterConfig{
			Rate:        c.RateLimit.Rate,
			Burst:       c.RateLimit.Burst,
			WaitOnLimit: c.RateLimit.Wait,
			MaxWait:     c.RateLimit.MaxWait,
		})))
	}
	if c.Breaker.MaxFailures > 0 {
		breaker.MaxFailures = c.Breaker.MaxFailures
		breaker.ResetTimeout = c.Breaker.ResetTimeout
		opts = append(opts, WithCircuitBreaker(NewCircuitBreaker(breaker)))
	}
	if c.MaxConcurrent > 0 {
		opts = append(opts, WithBulkhead(NewBulkhead(BulkheadConfig{MaxConcurrent: c.MaxConcurrent})))
	}
	return NewExecutor(opts...), nil
}
