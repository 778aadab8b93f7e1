package provider

import (
	"errors"
	"testing"
	"time"

	"archivist/internal/config"
	"archivist/internal/services/llm"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := NewRetryPolicy(config.Retry{MaxAttempts: 5, BaseDelayMS: 1000, MaxDelayMS: 5000})
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second,
		9: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := policy.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryPolicyDelayPrefersRetryAfter(t *testing.T) {
	policy := NewRetryPolicy(config.Retry{BaseDelayMS: 1000, MaxDelayMS: 10000})
	err := &llm.StatusError{StatusCode: 429, RetryAfter: 3 * time.Second}
	if got := policy.Delay(err, 1); got != 3*time.Second {
		t.Fatalf("Delay = %v, want 3s", got)
	}
	err = &llm.StatusError{StatusCode: 429, RetryAfter: time.Minute}
	if got := policy.Delay(err, 1); got != 10*time.Second {
		t.Fatalf("Delay = %v, want capped 10s", got)
	}
	if got := policy.Delay(errors.New("timeout"), 2); got != 2*time.Second {
		t.Fatalf("Delay = %v, want 2s", got)
	}
}

func TestRetryPolicyAttempts(t *testing.T) {
	policy := RetryPolicy{}
	if policy.attemptsFor(false) != 1 {
		t.Fatal("primary endpoint always gets one attempt")
	}
	if policy.attemptsFor(true) != 0 {
		t.Fatal("fallback attempts default to zero")
	}
}

func TestRetryPolicyZeroMaxDelayIsUncapped(t *testing.T) {
	policy := NewRetryPolicy(config.Retry{BaseDelayMS: 1000})
	if got := policy.Backoff(6); got != 32*time.Second {
		t.Fatalf("Backoff(6) = %v, want 32s", got)
	}
	err := &llm.StatusError{StatusCode: 429, RetryAfter: time.Minute}
	if got := policy.Delay(err, 1); got != time.Minute {
		t.Fatalf("Delay = %v, want the full Retry-After", got)
	}
}

func TestRetryPolicyUsesConfiguredDefaults(t *testing.T) {
	cfg := config.Default()
	policy := NewRetryPolicy(cfg.Retry)
	if policy.MaxDelay != time.Duration(cfg.Retry.MaxDelayMS)*time.Millisecond || policy.MaxDelay <= 0 {
		t.Fatalf("max delay = %v, want the configured default", policy.MaxDelay)
	}
	if got := policy.Backoff(50); got != policy.MaxDelay {
		t.Fatalf("Backoff(50) = %v, want capped at %v", got, policy.MaxDelay)
	}
}
