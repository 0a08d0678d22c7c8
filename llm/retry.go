package llm

import "time"

// RetryConfig is the per-endpoint retry policy: up to MaxAttempts tries,
// with delays growing from BackoffBase by BackoffMultiplier per attempt,
// capped at MaxBackoff.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// DefaultRetryConfig gives three attempts with 2s, 4s delays.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
