package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/stages"
	"archivist/internal/store"
)

// StageSource resolves stage implementations.
type StageSource interface {
	Get(name catalog.Stage) (stages.Stage, bool)
}

// Runner executes item pipelines against the record store. Records whose
// write fails stay in memory and remain authoritative for the rest of the run.
type Runner struct {
	store       *store.Store
	stages      StageSource
	root        string
	overwrite   bool
	retryFailed bool
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// fresh tracks ids already recomputed in this run so overwrite applies
	// once per item rather than on every on-demand call.
	fresh map[string]struct{}
	// memory holds records the store rejected, keyed by id.
	memory map[string]catalog.Record
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner constructs a runner from the resolved configuration.
func NewRunner(cfg *config.Config, st *store.Store, source StageSource, opts ...Option) *Runner {
	r := &Runner{
		store:       st,
		stages:      source,
		root:        cfg.Paths.InputDir,
		overwrite:   cfg.Workflow.Overwrite,
		retryFailed: cfg.Workflow.RetryFailedStages,
		logger:      logging.NewNop(),
		locks:       map[string]*sync.Mutex{},
		fresh:       map[string]struct{}{},
		memory:      map[string]catalog.Record{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "pipeline")
	return r
}

// Result describes one pipeline pass.
type Result struct {
	Record catalog.Record
	// Ran lists the stages invoked during this pass.
	Ran []catalog.Stage
	// Resumed is true when a stored record was reused.
	Resumed bool
	// Written is true when the record changed and was persisted.
	Written bool
	// InMemory is true when the latest record could not be written.
	InMemory bool
}

// Run advances item as far as its group type allows.
func (r *Runner) Run(ctx context.Context, item catalog.Item) (Result, error) {
	return r.advance(ctx, item, terminalStatus(item))
}

// EnsureThrough runs any stage item is missing up to target. Consensus uses it
// to make sure sampled members have fact, style and function output.
func (r *Runner) EnsureThrough(ctx context.Context, item catalog.Item, target catalog.Status) (Result, error) {
	return r.advance(ctx, item, target)
}

func (r *Runner) advance(ctx context.Context, item catalog.Item, target catalog.Status) (Result, error) {
	unlock := r.lock(item.ID)
	defer unlock()

	ctx = services.WithItemID(services.WithGroupID(ctx, item.GroupID), item.ID)
	logger := logging.WithContext(ctx, r.logger)

	rec, resumed, err := r.load(ctx, item)
	if err != nil {
		return Result{}, err
	}
	result := Result{Record: rec, Resumed: resumed}

	if rec.GroupType.HasConsensus() && rec.Status == catalog.StatusFinalized {
		// Consensus values are already merged; rerunning stages would undo them.
		return result, nil
	}

	dirty := !resumed
	for _, name := range plan(item, target) {
		if !r.needs(rec, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.finish(logger, result, rec, dirty, err)
		}
		stage, ok := r.stages.Get(name)
		if !ok {
			return r.finish(logger, result, rec, dirty, services.Wrap(services.ErrConfiguration, "pipeline", "run", fmt.Sprintf("stage %s not registered", name), nil))
		}
		out, ran := r.execute(ctx, logger, stage, item, rec)
		if !ran {
			return r.finish(logger, result, rec, dirty, ctx.Err())
		}
		out.ApplyTo(&rec)
		rec.Status = promote(rec.Status, statusAfter(name))
		result.Ran = append(result.Ran, name)
		r.record(logger, &result, rec)
		dirty = false
	}

	if next := settle(rec, target); next != rec.Status {
		rec.Status = next
		dirty = true
	}
	return r.finish(logger, result, rec, dirty, nil)
}

// finish persists pending changes and returns cause, if any. Writes use a
// context-free path, so a cancelled run still completes the current write.
func (r *Runner) finish(logger *slog.Logger, result Result, rec catalog.Record, dirty bool, cause error) (Result, error) {
	if dirty {
		r.record(logger, &result, rec)
	}
	result.Record = rec
	return result, cause
}

func (r *Runner) record(logger *slog.Logger, result *Result, rec catalog.Record) {
	if r.persist(logger, rec) {
		result.Written = true
		result.InMemory = false
		return
	}
	result.InMemory = true
}

// persist writes rec, falling back to memory when the store rejects it. The
// caller holds the item lock.
func (r *Runner) persist(logger *slog.Logger, rec catalog.Record) bool {
	err := r.store.Write(rec.ID, rec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.memory, rec.ID)
		return true
	}
	rec.Normalize()
	r.memory[rec.ID] = rec
	logging.WarnWithContext(logger, "record write failed; keeping record in memory",
		"record_write_failed",
		logging.String(logging.FieldErrorKind, services.Details(err).Kind),
		logging.Error(err),
		logging.String(logging.FieldImpact, "record kept in memory for this run only"),
		logging.String(logging.FieldErrorHint, "check the items directory; the item is recomputed on the next run"),
	)
	return false
}

// Read returns the current record for id: the in-memory copy when its last
// write failed, otherwise the stored record.
func (r *Runner) Read(id string) (catalog.Record, error) {
	if rec, ok := r.remembered(id); ok {
		return rec, nil
	}
	return r.store.Read(id)
}

// Write persists rec outside a pipeline pass. A rejected write keeps rec in
// memory, logs a warning and returns nil.
func (r *Runner) Write(id string, rec catalog.Record) error {
	if rec.ID != "" && rec.ID != id {
		return services.Wrap(services.ErrValidation, "pipeline", "write", "record id "+rec.ID+" does not match "+id, nil)
	}
	if err := store.ValidateID(id); err != nil {
		return err
	}
	rec.ID = id
	unlock := r.lock(id)
	defer unlock()
	r.persist(logging.WithContext(services.WithItemID(context.Background(), id), r.logger), rec)
	return nil
}

func (r *Runner) remembered(id string) (catalog.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.memory[id]
	return rec, ok
}

// execute runs one stage with start/complete/failed logging. The bool is
// false when the stage was cancelled and its outcome must not be recorded.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, stage stages.Stage, item catalog.Item, rec catalog.Record) (stages.Outcome, bool) {
	stageCtx := services.WithStage(ctx, string(stage.Name()))
	stageLogger := logger.With(logging.String(logging.FieldStage, string(stage.Name())))
	stageLogger.Debug(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("status", string(rec.Status)),
		logging.Int("images", len(item.Images)),
	)

	out := stage.Execute(stageCtx, stages.Input{Item: item, Record: rec, Root: r.root})
	if out.Cancelled {
		stageLogger.Info(
			"stage cancelled",
			logging.String(logging.FieldEventType, "stage_cancelled"),
			logging.String(logging.FieldImpact, "stage will run again on the next pass"),
		)
		return out, false
	}
	if out.Meta.Status == catalog.MetaError {
		details := services.Details(out.Err)
		logging.WarnWithContext(stageLogger, "stage failed",
			"stage_failure",
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String("error_message", details.Message),
			logging.Int("attempts", out.Meta.Attempts),
			logging.String(logging.FieldImpact, "stage fields left null; later stages still run"),
			logging.String(logging.FieldErrorHint, "rerun with workflow.retry_failed_stages to retry"),
		)
		return out, true
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("model", out.Meta.Model),
		logging.String("provider", out.Meta.Provider),
		logging.Int64("latency_ms", out.Meta.LatencyMS),
	}
	if errors.Is(out.Err, services.ErrMissingEvidence) {
		// Null fields are a legitimate outcome, not a stage failure.
		attrs = append(attrs,
			logging.String(logging.FieldErrorKind, services.Kind(services.ErrMissingEvidence)),
			logging.String("detail", out.Meta.Detail),
		)
	}
	stageLogger.Info("stage completed", logging.Args(attrs...)...)
	return out, true
}

// load returns the in-memory or stored record when it may be reused,
// otherwise a fresh DISCOVERED record. Unreadable records are recomputed.
func (r *Runner) load(ctx context.Context, item catalog.Item) (catalog.Record, bool, error) {
	if err := store.ValidateID(item.ID); err != nil {
		return catalog.Record{}, false, err
	}
	if rec, ok := r.remembered(item.ID); ok {
		return rec, true, nil
	}
	overwrite := r.overwrite && r.claimFresh(item.ID)
	skip, err := r.store.ShouldSkip(item.ID, overwrite)
	if err != nil {
		return catalog.Record{}, false, err
	}
	if !skip {
		return catalog.NewRecord(item), false, nil
	}
	rec, err := r.store.Read(item.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return catalog.NewRecord(item), false, nil
		}
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "stored record unreadable; recomputing",
			"record_unreadable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item restarts from DISCOVERED"),
			logging.String(logging.FieldErrorHint, "inspect or delete the record file"),
		)
		return catalog.NewRecord(item), false, nil
	}
	return rec, true, nil
}

// claimFresh reports whether id has not yet been recomputed this run.
func (r *Runner) claimFresh(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.fresh[id]; done {
		return false
	}
	r.fresh[id] = struct{}{}
	return true
}

func (r *Runner) needs(rec catalog.Record, stage catalog.Stage) bool {
	meta := rec.Meta(stage)
	if meta == nil {
		return true
	}
	return meta.Status == catalog.MetaError && r.retryFailed
}

func (r *Runner) lock(id string) func() {
	r.mu.Lock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}
