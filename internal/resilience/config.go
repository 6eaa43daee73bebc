package resilience

import (
	"time"
)

// PolicyFrom builds a Policy from configured values. Zero values keep the
// defaults.
func PolicyFrom(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitter float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier >= 1 {
		p.Multiplier = multiplier
	}
	if jitter >= 0 && jitter <= 1 {
		p.Jitter = jitter
	}
	return p
}

// BreakerFrom builds a BreakerConfig from configured values.
func BreakerFrom(threshold, cooldownSecs int) BreakerConfig {
	cfg := BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
