package resilience

import (
	"time"
)

// RetryFromConfig builds a RetryConfig from plain config values. Zero values
// keep the defaults.
func RetryFromConfig(maxAttempts, initialBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// BreakerFromConfig builds a BreakerConfig from plain config values. Zero
// values keep the defaults.
func BreakerFromConfig(name string, failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := BreakerConfig{Name: name, FailureThreshold: failureThreshold}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
