package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/services"
	"archivist/internal/services/llm"
	"archivist/internal/testsupport"
)

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *memoryRecorder) RecordAttempt(_ context.Context, attempt Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memoryRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.attempts))
	for _, a := range r.attempts {
		out = append(out, a.Outcome)
	}
	return out
}

func newTestInvoker(t *testing.T, cfg *config.Config, backend llm.Backend, extra ...Option) (*Invoker, *memoryRecorder, *Metrics) {
	t.Helper()
	recorder := &memoryRecorder{}
	metrics := NewMetrics(prometheus.NewRegistry())
	clock := newFakeClock()
	opts := append([]Option{
		WithBackend("openrouter", backend),
		WithRecorder(recorder),
		WithMetrics(metrics),
		WithClock(clock.Now, clock.Sleep),
	}, extra...)
	inv, err := New(cfg, NewThrottle(cfg.RateLimit), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inv, recorder, metrics
}

func factCall(cfg *config.Config) Call {
	return Call{
		Stage:  catalog.StageFact,
		ItemID: "B001-1",
		Prompt: "extract facts",
		Route:  cfg.StageRoute(config.StageFact),
	}
}

func TestInvokeParsesAndRepairsOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend := testsupport.NewFakeBackend(testsupport.Scripted(testsupport.Reply{Content: "```json\n{\"title\": \"Poster\",}\n```"}))
	inv, recorder, _ := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if !result.OK() {
		t.Fatalf("expected ok result, got %+v", result.Meta)
	}
	if string(result.Raw) != `{"title":"Poster"}` {
		t.Fatalf("unexpected raw %s", result.Raw)
	}
	if result.Meta.Model != cfg.LLM.Model || result.Meta.Provider != "openrouter" || result.Meta.Attempts != 1 {
		t.Fatalf("unexpected meta %+v", result.Meta)
	}
	if result.Meta.Error.Valid() {
		t.Fatalf("expected null error, got %q", result.Meta.Error.String())
	}
	if got := recorder.outcomes(); len(got) != 1 || got[0] != OutcomeOK {
		t.Fatalf("unexpected recorded outcomes %v", got)
	}
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(3, 2))
	backend := testsupport.NewFakeBackend(testsupport.Scripted(
		testsupport.Reply{Err: &llm.StatusError{StatusCode: 503}},
		testsupport.Reply{Err: &llm.StatusError{StatusCode: 429}},
		testsupport.Reply{Content: `{"ok":true}`},
	))
	inv, recorder, metrics := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if !result.OK() {
		t.Fatalf("expected success after retries, got %+v", result.Meta)
	}
	if result.Meta.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Meta.Attempts)
	}
	for _, req := range backend.Calls() {
		if req.Model != cfg.LLM.Model {
			t.Fatalf("retries must stay on the primary model, got %s", req.Model)
		}
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("fact", "openrouter")); got != 2 {
		t.Fatalf("retries metric = %v, want 2", got)
	}
	if got := strings.Join(recorder.outcomes(), ","); got != "transient,transient,ok" {
		t.Fatalf("recorded outcomes %s", got)
	}
}

func TestInvokeFailsOverAfterExhaustingPrimary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(2, 2))
	backend := testsupport.NewFakeBackend(func(req llm.Request) (string, error) {
		if req.Model == cfg.LLM.Model {
			return "", &llm.StatusError{StatusCode: 500}
		}
		return `{"via":"fallback"}`, nil
	})
	inv, _, metrics := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if !result.OK() {
		t.Fatalf("expected fallback success, got %+v", result.Meta)
	}
	if result.Meta.Model != cfg.LLM.FallbackModel {
		t.Fatalf("meta model = %s, want fallback %s", result.Meta.Model, cfg.LLM.FallbackModel)
	}
	if result.Meta.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Meta.Attempts)
	}
	if got := testutil.ToFloat64(metrics.failovers.WithLabelValues("fact")); got != 1 {
		t.Fatalf("failover metric = %v", got)
	}
}

func TestInvokePermanentErrorSkipsRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(3, 2))
	backend := testsupport.NewFakeBackend(func(req llm.Request) (string, error) {
		if req.Model == cfg.LLM.Model {
			return "", &llm.StatusError{StatusCode: 401, Body: "bad key"}
		}
		return `{"ok":1}`, nil
	})
	inv, _, _ := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if !result.OK() {
		t.Fatalf("expected fallback success, got %+v", result.Meta)
	}
	if backend.CallCount() != 2 {
		t.Fatalf("calls = %d, want one primary and one fallback", backend.CallCount())
	}
}

func TestInvokeExhaustedReturnsNullWithCause(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetry(2, 1))
	backend := testsupport.NewFakeBackend(testsupport.Scripted(testsupport.Reply{Err: &llm.StatusError{StatusCode: 502, Body: "bad gateway"}}))
	inv, _, metrics := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if result.OK() || result.Raw != nil {
		t.Fatalf("expected failed result, got %+v", result)
	}
	if result.Meta.Status != catalog.MetaError {
		t.Fatalf("status = %s", result.Meta.Status)
	}
	if !strings.Contains(result.Meta.Error.String(), "502") {
		t.Fatalf("error should carry cause, got %q", result.Meta.Error.String())
	}
	if !errors.Is(result.Err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", result.Err)
	}
	if backend.CallCount() != 3 {
		t.Fatalf("calls = %d, want 3", backend.CallCount())
	}
	if got := testutil.ToFloat64(metrics.exhausted.WithLabelValues("fact")); got != 1 {
		t.Fatalf("exhausted metric = %v", got)
	}
	if result.Cancelled() {
		t.Fatal("exhaustion is not cancellation")
	}
}

func TestInvokeMalformedOutputIsNotRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend := testsupport.NewFakeBackend(testsupport.Scripted(testsupport.Reply{Content: "I cannot help with that."}))
	inv, recorder, _ := newTestInvoker(t, cfg, backend)

	result := inv.Invoke(context.Background(), factCall(cfg))
	if result.Raw != nil || result.Meta.Status != catalog.MetaError {
		t.Fatalf("expected null result, got %+v", result)
	}
	if !errors.Is(result.Err, services.ErrMalformedOutput) {
		t.Fatalf("expected malformed marker, got %v", result.Err)
	}
	if backend.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", backend.CallCount())
	}
	if got := recorder.outcomes(); len(got) != 1 || got[0] != OutcomeMalformed {
		t.Fatalf("recorded outcomes %v", got)
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend := testsupport.NewFakeBackend(nil)
	inv, _, _ := newTestInvoker(t, cfg, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := inv.Invoke(ctx, factCall(cfg))
	if !result.Cancelled() {
		t.Fatalf("expected cancelled result, got %+v", result)
	}
	if backend.CallCount() != 0 {
		t.Fatalf("no backend call expected, got %d", backend.CallCount())
	}
}

func TestNewRejectsUnknownProviderKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers["weird"] = config.Provider{Kind: "carrier-pigeon", APIKey: "x"}
	if _, err := New(cfg, NewThrottle(cfg.RateLimit)); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewBuildsConfiguredBackends(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	inv, err := New(cfg, NewThrottle(cfg.RateLimit, WithThrottleClock(time.Now, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := strings.Join(inv.Backends(), ","); got != "anthropic,openrouter" {
		t.Fatalf("backends = %s", got)
	}
}
