package provider

import (
	"math"
	"time"

	"archivist/internal/config"
	"archivist/internal/services/llm"
)

// RetryPolicy decides how many attempts each endpoint of a route gets and how
// long to wait between them. A zero MaxDelay leaves delays uncapped.
type RetryPolicy struct {
	MaxAttempts      int
	FallbackAttempts int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

// NewRetryPolicy converts retry settings into a policy.
func NewRetryPolicy(cfg config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      cfg.MaxAttempts,
		FallbackAttempts: cfg.FallbackAttempts,
		BaseDelay:        time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.MaxDelayMS) * time.Millisecond,
	}
}

func (p RetryPolicy) attemptsFor(fallback bool) int {
	if fallback {
		return p.FallbackAttempts
	}
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before the attempt following attempt (1-based).
// A server-provided Retry-After wins over the computed backoff, capped at
// MaxDelay.
func (p RetryPolicy) Delay(err error, attempt int) time.Duration {
	if after, ok := llm.RetryAfter(err); ok {
		return p.capDelay(after)
	}
	return p.Backoff(attempt)
}

// Backoff returns base * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			delay = ceiling
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p RetryPolicy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
