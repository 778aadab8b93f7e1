package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/services/llm"
)

// Call is one model request on behalf of a stage.
type Call struct {
	Stage  catalog.Stage
	ItemID string
	System string
	Prompt string
	Images []llm.Image
	Route  config.Route
}

// Result carries the parsed output of a call. Raw is nil when the call
// failed; Meta records the outcome in either case. Err is the classified
// cause of a failure and is never persisted.
type Result struct {
	Raw  json.RawMessage
	Meta catalog.StageMeta
	Err  error

	cancelled bool
}

// OK reports whether the call produced parsed output.
func (r Result) OK() bool {
	return r.Raw != nil && r.Meta.Status == catalog.MetaOK
}

// Cancelled reports whether the call stopped because the context ended.
func (r Result) Cancelled() bool {
	return r.cancelled
}

// Attempt describes one backend request for the Recorder.
type Attempt struct {
	RunID     string
	Stage     string
	ItemID    string
	Provider  string
	Model     string
	Number    int
	Fallback  bool
	Outcome   string
	Error     string
	StartedAt time.Time
	Latency   time.Duration
}

// Recorder persists attempt outcomes. Recording failures are logged and
// never fail the call.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Invoker executes calls against configured backends.
type Invoker struct {
	backends map[string]llm.Backend
	throttle *Throttle
	policy   RetryPolicy
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = logging.NewComponentLogger(logger, "provider")
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(i *Invoker) { i.metrics = metrics }
}

// WithRecorder sets the attempt recorder.
func WithRecorder(recorder Recorder) Option {
	return func(i *Invoker) { i.recorder = recorder }
}

// WithBackend registers backend under a provider name, replacing any backend
// built from configuration.
func WithBackend(name string, backend llm.Backend) Option {
	return func(i *Invoker) {
		if backend != nil {
			i.backends[name] = backend
		}
	}
}

// WithClock overrides the time source and the sleeper used between retries.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(i *Invoker) {
		if now != nil {
			i.now = now
		}
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

// New builds an Invoker with one backend per configured provider. The
// throttle is shared by every Invoker in the process and must not be nil.
func New(cfg *config.Config, throttle *Throttle, opts ...Option) (*Invoker, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "config is required", nil)
	}
	if throttle == nil {
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "throttle is required", nil)
	}
	inv := &Invoker{
		backends: make(map[string]llm.Backend, len(cfg.Providers)),
		throttle: throttle,
		policy:   NewRetryPolicy(cfg.Retry),
		logger:   logging.NewComponentLogger(nil, "provider"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(inv)
	}
	for _, name := range cfg.ProviderNames() {
		if _, ok := inv.backends[name]; ok {
			continue
		}
		backend, err := newBackend(cfg.Providers[name])
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "provider", "new", "provider "+name, err)
		}
		inv.backends[name] = backend
	}
	return inv, nil
}

func newBackend(p config.Provider) (llm.Backend, error) {
	cfg := llm.Config{
		APIKey:         p.APIKey,
		BaseURL:        p.BaseURL,
		Referer:        p.Referer,
		Title:          p.Title,
		TimeoutSeconds: p.TimeoutSeconds,
	}
	switch p.Kind {
	case llm.KindOpenAI:
		return llm.NewClient(cfg), nil
	case llm.KindAnthropic:
		return llm.NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
}

// Backends returns the registered provider names in sorted order.
func (i *Invoker) Backends() []string {
	names := make([]string, 0, len(i.backends))
	for name := range i.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type target struct {
	endpoint config.Endpoint
	attempts int
	fallback bool
}

// Invoke runs call through the throttle with retry and failover. It never
// returns a nil Result; failures are described by Result.Meta and Result.Err.
func (i *Invoker) Invoke(ctx context.Context, call Call) Result {
	ctx = services.WithStage(services.WithItemID(ctx, call.ItemID), string(call.Stage))
	logger := logging.WithContext(ctx, i.logger)
	stage := string(call.Stage)
	started := i.now()

	targets := []target{{endpoint: call.Route.Primary, attempts: i.policy.attemptsFor(false)}}
	if call.Route.Fallback != nil && i.policy.attemptsFor(true) > 0 {
		targets = append(targets, target{endpoint: *call.Route.Fallback, attempts: i.policy.attemptsFor(true), fallback: true})
	}

	meta := catalog.StageMeta{Timestamp: started.UTC()}
	var lastErr error
	for idx, tgt := range targets {
		meta.Provider = tgt.endpoint.Provider
		meta.Model = tgt.endpoint.Model
		if idx > 0 {
			i.metrics.observeFailover(stage)
			logging.WarnWithContext(logger, "provider failover",
				"provider_failover",
				logging.String("from", targets[idx-1].endpoint.String()),
				logging.String("to", tgt.endpoint.String()),
				logging.String("cause", errorString(lastErr)),
				logging.String(logging.FieldImpact, "call continues on fallback model"),
				logging.String(logging.FieldErrorHint, "check primary provider status and credentials"),
			)
		}
		backend, ok := i.backends[tgt.endpoint.Provider]
		if !ok {
			lastErr = services.Wrap(services.ErrConfiguration, "provider", "invoke", "no backend for provider "+tgt.endpoint.Provider, nil)
			continue
		}

		for attempt := 1; attempt <= tgt.attempts; attempt++ {
			meta.Attempts++
			content, begin, err := i.attempt(ctx, logger, backend, call, tgt, attempt)
			if err == nil {
				raw, parseErr := llm.ParseJSON(content)
				if parseErr != nil {
					i.record(ctx, call, tgt, attempt, OutcomeMalformed, parseErr, begin)
					wrapped := services.Wrap(services.ErrMalformedOutput, "provider", "parse", "model output is not json", parseErr)
					logging.WarnWithContext(logger, "model output unparsable",
						"provider_malformed",
						logging.String("endpoint", tgt.endpoint.String()),
						logging.Error(parseErr),
						logging.String(logging.FieldImpact, "stage result recorded as null"),
						logging.String(logging.FieldErrorHint, "inspect the model response; consider a different model for this stage"),
					)
					return i.finish(meta, started, nil, wrapped)
				}
				i.record(ctx, call, tgt, attempt, OutcomeOK, nil, begin)
				return i.finish(meta, started, raw, nil)
			}
			lastErr = err
			if ctx.Err() != nil {
				return i.cancelled(meta, started, ctx.Err())
			}
			if !llm.IsTransient(err) {
				logging.WarnWithContext(logger, "provider rejected request",
					"provider_rejected",
					logging.String("endpoint", tgt.endpoint.String()),
					logging.Int("attempt", attempt),
					logging.Error(err),
					logging.String(logging.FieldImpact, "no further attempts on this endpoint"),
					logging.String(logging.FieldErrorHint, "verify the API key and model name"),
				)
				break
			}
			if attempt < tgt.attempts {
				delay := i.policy.Delay(err, attempt)
				i.metrics.observeRetry(stage, tgt.endpoint.Provider)
				logger.Info("provider retry scheduled",
					logging.String(logging.FieldEventType, "provider_retry"),
					logging.String("endpoint", tgt.endpoint.String()),
					logging.Int("attempt", attempt),
					logging.Duration("delay", delay),
					logging.Error(err),
				)
				if sleepErr := i.sleep(ctx, delay); sleepErr != nil {
					return i.cancelled(meta, started, sleepErr)
				}
			}
		}
	}

	i.metrics.observeExhausted(stage)
	marker := services.ErrProvider
	if llm.IsTransient(lastErr) {
		marker = services.ErrTransient
	}
	if errors.Is(lastErr, services.ErrConfiguration) {
		marker = services.ErrConfiguration
	}
	wrapped := services.Wrap(marker, "provider", "invoke", "all endpoints exhausted", lastErr)
	logging.WarnWithContext(logger, "provider call failed",
		"provider_exhausted",
		logging.Int("attempts", meta.Attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldErrorKind, services.Kind(marker)),
		logging.String(logging.FieldImpact, "stage result recorded as null"),
		logging.String(logging.FieldErrorHint, "rerun later; completed stages are kept"),
	)
	return i.finish(meta, started, nil, wrapped)
}

func (i *Invoker) attempt(ctx context.Context, logger *slog.Logger, backend llm.Backend, call Call, tgt target, number int) (string, time.Time, error) {
	release, err := i.throttle.Acquire(ctx)
	if err != nil {
		return "", i.now(), err
	}
	defer release()

	begin := i.now()
	logger.Debug("provider call started",
		logging.String(logging.FieldEventType, "provider_call_start"),
		logging.String("endpoint", tgt.endpoint.String()),
		logging.Int("attempt", number),
		logging.Bool("fallback", tgt.fallback),
		logging.Int("images", len(call.Images)),
	)
	content, err := backend.Complete(ctx, llm.Request{
		Model:       tgt.endpoint.Model,
		System:      call.System,
		Prompt:      call.Prompt,
		Images:      call.Images,
		Temperature: call.Route.Temperature,
		MaxTokens:   call.Route.MaxTokens,
	})
	latency := i.now().Sub(begin)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
	case llm.IsTransient(err):
		outcome = OutcomeTransient
	default:
		outcome = OutcomeRejected
	}
	i.metrics.observeAttempt(string(call.Stage), tgt.endpoint.Provider, outcome, latency.Seconds())
	if err != nil {
		i.record(ctx, call, tgt, number, outcome, err, begin)
	}
	logger.Info("provider call finished",
		logging.String(logging.FieldEventType, "provider_call_complete"),
		logging.String("endpoint", tgt.endpoint.String()),
		logging.Int("attempt", number),
		logging.String("outcome", outcome),
		logging.Duration("latency", latency),
	)
	return content, begin, err
}

func (i *Invoker) record(ctx context.Context, call Call, tgt target, number int, outcome string, err error, started time.Time) {
	if i.recorder == nil {
		return
	}
	runID, _ := services.RunIDFromContext(ctx)
	entry := Attempt{
		RunID:     runID,
		Stage:     string(call.Stage),
		ItemID:    call.ItemID,
		Provider:  tgt.endpoint.Provider,
		Model:     tgt.endpoint.Model,
		Number:    number,
		Fallback:  tgt.fallback,
		Outcome:   outcome,
		Error:     errorString(err),
		StartedAt: started.UTC(),
		Latency:   i.now().Sub(started),
	}
	// Recording uses a context detached from cancellation so the ledger stays complete.
	if recErr := i.recorder.RecordAttempt(context.WithoutCancel(ctx), entry); recErr != nil {
		logging.WarnWithContext(logging.WithContext(ctx, i.logger), "call journal write failed",
			"journal_write_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "attempt missing from call journal"),
			logging.String(logging.FieldErrorHint, "check journal_path permissions and disk space"),
		)
	}
}

func (i *Invoker) finish(meta catalog.StageMeta, started time.Time, raw json.RawMessage, err error) Result {
	meta.LatencyMS = i.now().Sub(started).Milliseconds()
	if err != nil {
		meta.Status = catalog.MetaError
		meta.Error = catalog.Some(err.Error())
		return Result{Meta: meta, Err: err}
	}
	meta.Status = catalog.MetaOK
	meta.Error = catalog.Null()
	return Result{Raw: raw, Meta: meta}
}

func (i *Invoker) cancelled(meta catalog.StageMeta, started time.Time, err error) Result {
	result := i.finish(meta, started, nil, err)
	result.cancelled = true
	return result
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
