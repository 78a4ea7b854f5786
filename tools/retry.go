package tools

import (
	"math/rand/v2"
	"time"
)

// RetryConfig holds the retry policy shared by every tool client.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier is applied to the delay on each subsequent retry.
	Multiplier float64

	// Jitter is the symmetric jitter fraction applied to every delay.
	Jitter float64

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the uniform tool-call retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
		MaxDelay:   30 * time.Second,
	}
}

// Backoff computes the delay before retry n (1-based). Jitter prevents
// synchronized retries across clients.
func (c RetryConfig) Backoff(retry int) time.Duration {
	multiplier := 1.0
	for i := 1; i < retry; i++ {
		multiplier *= c.Multiplier
	}

	backoff := time.Duration(float64(c.BaseDelay) * multiplier)
	if backoff > c.MaxDelay {
		backoff = c.MaxDelay
	}

	jitter := float64(backoff) * c.Jitter * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
