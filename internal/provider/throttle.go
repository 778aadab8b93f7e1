package provider

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"archivist/internal/config"
	"archivist/internal/logging"
)

// Throttle is the shared rate-limit handle for all model calls in a process.
// It bounds concurrent calls, spaces call starts at least MinInterval apart
// (plus random jitter), and pauses for Cooldown after every CooldownEvery calls.
type Throttle struct {
	slots chan struct{}

	mu       sync.Mutex
	next     time.Time
	calls    int
	cooldown int

	minInterval   time.Duration
	jitter        time.Duration
	cooldownEvery int
	cooldownPause time.Duration

	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	random func(n int64) int64
	logger *slog.Logger
}

// ThrottleOption customizes a Throttle.
type ThrottleOption func(*Throttle)

// WithThrottleClock overrides the time source and sleeper used for spacing.
func WithThrottleClock(now func() time.Time, sleep func(context.Context, time.Duration) error) ThrottleOption {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// WithThrottleRandom overrides the jitter source. fn returns a value in [0, n).
func WithThrottleRandom(fn func(n int64) int64) ThrottleOption {
	return func(t *Throttle) {
		if fn != nil {
			t.random = fn
		}
	}
}

// WithThrottleLogger sets the logger used for cooldown notices.
func WithThrottleLogger(logger *slog.Logger) ThrottleOption {
	return func(t *Throttle) {
		t.logger = logging.NewComponentLogger(logger, "throttle")
	}
}

// NewThrottle builds the shared throttle from rate limit settings.
func NewThrottle(cfg config.RateLimit, opts ...ThrottleOption) *Throttle {
	capacity := cfg.MaxConcurrency
	if capacity <= 0 {
		capacity = 1
	}
	t := &Throttle{
		slots:         make(chan struct{}, capacity),
		minInterval:   time.Duration(cfg.MinIntervalMS) * time.Millisecond,
		jitter:        time.Duration(cfg.JitterMS) * time.Millisecond,
		cooldownEvery: cfg.CooldownEvery,
		cooldownPause: time.Duration(cfg.CooldownSeconds) * time.Second,
		now:           time.Now,
		sleep:         sleepContext,
		random:        rand.Int64N,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire blocks until a call may start and returns a release function that
// must be called when the call finishes.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	release := func() { once.Do(func() { <-t.slots }) }

	wait := t.reserve()
	if err := t.sleep(ctx, wait); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// reserve books the next start slot and returns how long the caller must wait.
func (t *Throttle) reserve() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	start := now
	if t.next.After(start) {
		start = t.next
	}
	if t.cooldownEvery > 0 && t.calls > 0 && t.calls%t.cooldownEvery == 0 && t.cooldownPause > 0 {
		start = start.Add(t.cooldownPause)
		t.cooldown++
		t.logger.Info("provider cooldown",
			logging.String(logging.FieldEventType, "provider_cooldown"),
			logging.Int("calls", t.calls),
			logging.Duration("pause", t.cooldownPause),
		)
	}
	if t.jitter > 0 {
		start = start.Add(time.Duration(t.random(int64(t.jitter) + 1)))
	}
	t.calls++
	t.next = start.Add(t.minInterval)
	return start.Sub(now)
}

// Calls returns the number of call slots granted so far.
func (t *Throttle) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cooldowns returns how many cooldown pauses have been scheduled.
func (t *Throttle) Cooldowns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cooldown
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
