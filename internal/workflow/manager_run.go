package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"archivist/internal/catalog"
	"archivist/internal/consensus"
	"archivist/internal/finalize"
	"archivist/internal/grouping"
	"archivist/internal/journal"
	"archivist/internal/logging"
	"archivist/internal/pipeline"
	"archivist/internal/provider"
	"archivist/internal/services"
	"archivist/internal/stages"
	"archivist/internal/store"
	"archivist/internal/vocabulary"
)

// components is the assembled graph for one run.
type components struct {
	journal   *journal.Journal
	runner    *pipeline.Runner
	consensus *consensus.Manager
	finalizer *finalize.Finalizer
}

// Run processes the input tree once. The returned error is non-nil only for
// startup failures or cancellation; item and group failures are reported in
// the Summary.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	started := m.now()
	runID := m.newRunID()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(m.logger, "workflow"))
	summary := Summary{RunID: runID, StartedAt: started.UTC()}

	if err := m.cfg.EnsureDirectories(); err != nil {
		return summary, services.Wrap(services.ErrConfiguration, "workflow", "prepare", "create directories", err)
	}
	lock := flock.New(m.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return summary, services.Wrap(services.ErrConfiguration, "workflow", "lock", m.LockPath(), err)
	}
	if !ok {
		return summary, services.Wrap(services.ErrConfiguration, "workflow", "lock", "another run is using "+m.cfg.Paths.OutputDir, nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	comp, err := m.assemble(logger)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := comp.journal.Close(); err != nil {
			logger.Warn("failed to close call journal", logging.Error(err))
		}
	}()

	discovered, err := grouping.Discover(m.cfg.Paths.InputDir, grouping.OptionsFromConfig(m.cfg.Grouping))
	if err != nil {
		return summary, err
	}
	summary.Unresolved = discovered.Unresolved
	for _, entry := range discovered.Unresolved {
		logging.WarnWithContext(logger, "unresolved grouping",
			"grouping_unresolved",
			logging.String("path", entry.Path),
			logging.String("reason", entry.Reason),
			logging.String(logging.FieldImpact, "entry skipped for this run"),
			logging.String(logging.FieldErrorHint, "move the file into a supported layout"),
		)
	}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("groups", len(discovered.Groups)),
		logging.Int("unresolved", len(discovered.Unresolved)),
		logging.Int("workers", m.cfg.Workflow.Workers),
	)

	track := newTracker()
	m.process(ctx, logger, comp, discovered.Groups, track)

	summary.Interrupted = ctx.Err() != nil
	m.summarize(ctx, logger, comp, discovered, track, &summary)
	summary.Duration = m.now().Sub(started)
	m.observe(summary)
	m.writeMetrics(logger)
	logRunSummary(logger, summary)

	if summary.Interrupted {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (m *Manager) assemble(logger *slog.Logger) (*components, error) {
	vocabs, err := m.vocabularies()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "vocabulary", m.cfg.Vocabulary.Path, err)
	}
	jr, err := journal.Open(m.cfg.Paths.JournalPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "journal", m.cfg.Paths.JournalPath, err)
	}
	throttle := provider.NewThrottle(m.cfg.RateLimit, provider.WithThrottleLogger(m.logger))
	opts := []provider.Option{
		provider.WithLogger(m.logger),
		provider.WithMetrics(provider.NewMetrics(m.registry)),
		provider.WithRecorder(jr),
	}
	for name, backend := range m.backends {
		opts = append(opts, provider.WithBackend(name, backend))
	}
	invoker, err := provider.New(m.cfg, throttle, opts...)
	if err != nil {
		_ = jr.Close()
		return nil, err
	}
	st, err := store.Open(m.cfg.ItemsDir())
	if err != nil {
		_ = jr.Close()
		return nil, err
	}
	registry := stages.NewRegistry(m.cfg, invoker, vocabs, m.logger)
	runner := pipeline.NewRunner(m.cfg, st, registry, pipeline.WithLogger(m.logger))
	cons := consensus.NewManager(m.cfg, runner, registry.Vote(), consensus.WithLogger(m.logger))
	logger.Debug("components assembled", logging.Strings("providers", invoker.Backends()))
	return &components{
		journal:   jr,
		runner:    runner,
		consensus: cons,
		finalizer: finalize.New(runner, cons, finalize.WithLogger(m.logger)),
	}, nil
}

func (m *Manager) vocabularies() (*vocabulary.Set, error) {
	if m.cfg.Vocabulary.Path == "" {
		return vocabulary.Default()
	}
	return vocabulary.Load(m.cfg.Vocabulary.Path)
}

// process runs every group concurrently; items share one worker pool.
func (m *Manager) process(ctx context.Context, logger *slog.Logger, comp *components, groups []catalog.Group, track *tracker) {
	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	pool := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			m.processGroup(ctx, logger, comp, pool, group, track)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) processGroup(ctx context.Context, logger *slog.Logger, comp *components, pool *semaphore.Weighted, group catalog.Group, track *tracker) {
	ctx = services.WithGroupID(ctx, group.ID)
	groupLogger := logging.WithContext(ctx, logger)

	var items errgroup.Group
	for _, item := range group.Items {
		items.Go(func() error {
			if err := pool.Acquire(ctx, 1); err != nil {
				return err
			}
			defer pool.Release(1)
			if _, err := comp.runner.Run(ctx, item); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				track.itemFailed(item.ID, err)
				logging.ErrorWithContext(groupLogger, "item pipeline failed",
					"item_failed",
					logging.String(logging.FieldItemID, item.ID),
					logging.String(logging.FieldErrorKind, services.Details(err).Kind),
					logging.Error(err),
					logging.String(logging.FieldImpact, "item left at its last persisted status"),
					logging.String(logging.FieldErrorHint, "rerun to resume from the stored record"),
				)
			}
			return nil
		})
	}
	if err := items.Wait(); err != nil || ctx.Err() != nil {
		return
	}
	if !group.Type.HasConsensus() {
		return
	}

	res, err := comp.consensus.Resolve(ctx, group)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		track.unresolvedGroup()
		logging.ErrorWithContext(groupLogger, "consensus failed",
			"consensus_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "members stay CONSENSUS_PENDING"),
			logging.String(logging.FieldErrorHint, "rerun once the group's items have records"),
		)
		return
	}
	track.resolved(res.Source)

	report, err := comp.finalizer.Finalize(ctx, group)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		track.unresolvedGroup()
		logging.ErrorWithContext(groupLogger, "finalize failed",
			"finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "members stay CONSENSUS_PENDING"),
		)
		return
	}
	track.finalizeFailed(len(report.Failures))
	m.metrics.finalize.WithLabelValues("finalized").Add(float64(report.Finalized))
	m.metrics.finalize.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	m.metrics.finalize.WithLabelValues("failed").Add(float64(len(report.Failures)))
}

// summarize reads back the records of every discovered item, including
// records held in memory after a failed write.
func (m *Manager) summarize(ctx context.Context, logger *slog.Logger, comp *components, discovered grouping.Result, track *tracker, summary *Summary) {
	summary.Groups = map[catalog.GroupType]int{}
	summary.Stages = map[catalog.Stage]StageCounts{}
	for _, group := range discovered.Groups {
		summary.Groups[group.Type]++
	}
	for _, item := range discovered.Items() {
		if item.Role == catalog.RoleSeriesSample {
			summary.Samples++
		} else {
			summary.Items++
		}
		rec, err := comp.runner.Read(item.ID)
		if err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				logger.Debug("record unreadable for summary", logging.String(logging.FieldItemID, item.ID), logging.Error(err))
			}
			countPending(summary.Stages, item)
			continue
		}
		if item.Role == catalog.RoleMember {
			if rec.Status == catalog.StatusFinalized {
				summary.Finalized++
			} else {
				summary.Pending++
			}
		}
		for _, stage := range applicableStages(item) {
			counts := summary.Stages[stage]
			switch meta := rec.Meta(stage); {
			case meta == nil:
				counts.Pending++
			case meta.Status == catalog.MetaOK:
				counts.OK++
			case meta.Status == catalog.MetaSkipped:
				counts.Skipped++
			default:
				counts.Error++
			}
			summary.Stages[stage] = counts
		}
	}

	track.mu.Lock()
	summary.ItemErrors = append(summary.ItemErrors, track.itemErrors...)
	summary.Consensus = track.consensus
	summary.ConsensusFailed = track.consensusFailed
	summary.FinalizeFailures = track.finalizeFailures
	track.mu.Unlock()
	sort.Slice(summary.ItemErrors, func(i, j int) bool { return summary.ItemErrors[i].ItemID < summary.ItemErrors[j].ItemID })

	queryCtx := context.WithoutCancel(ctx)
	if calls, err := comp.journal.CountRun(queryCtx, summary.RunID); err == nil {
		summary.ModelCalls = calls
	} else {
		logger.Warn("call journal unavailable for summary", logging.Error(err))
	}
	if outcomes, err := comp.journal.OutcomesForRun(queryCtx, summary.RunID); err == nil {
		summary.CallOutcomes = outcomes
	}
}

func applicableStages(item catalog.Item) []catalog.Stage {
	if item.Role == catalog.RoleSeriesSample {
		return []catalog.Stage{catalog.StageFact}
	}
	return catalog.ItemStages
}

func countPending(counts map[catalog.Stage]StageCounts, item catalog.Item) {
	for _, stage := range applicableStages(item) {
		c := counts[stage]
		c.Pending++
		counts[stage] = c
	}
}

func (m *Manager) observe(summary Summary) {
	m.metrics.items.WithLabelValues("finalized").Set(float64(summary.Finalized))
	m.metrics.items.WithLabelValues("pending").Set(float64(summary.Pending))
	m.metrics.items.WithLabelValues("failed").Set(float64(len(summary.ItemErrors)))
	for _, typ := range []catalog.GroupType{catalog.GroupTypeA, catalog.GroupTypeB, catalog.GroupTypeC} {
		m.metrics.groups.WithLabelValues(string(typ)).Set(float64(summary.Groups[typ]))
	}
	for source, n := range summary.Consensus {
		m.metrics.consensus.WithLabelValues(string(source)).Add(float64(n))
	}
	m.metrics.duration.Set(summary.Duration.Seconds())
}

func (m *Manager) writeMetrics(logger *slog.Logger) {
	path := m.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		logging.WarnWithContext(logger, "metrics snapshot failed",
			"metrics_write_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no metrics file for this run"),
		)
		return
	}
	if info, err := os.Stat(path); err == nil {
		logger.Debug("metrics snapshot written", logging.String("path", path), logging.Int64("bytes", info.Size()))
	}
}

func logRunSummary(logger *slog.Logger, summary Summary) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("items", summary.Items),
		logging.Int("finalized", summary.Finalized),
		logging.Int("pending", summary.Pending),
		logging.Int("item_errors", len(summary.ItemErrors)),
		logging.Int("unresolved", len(summary.Unresolved)),
		logging.Int("model_calls", summary.ModelCalls),
		logging.Duration("duration", summary.Duration),
	}
	for _, stage := range catalog.ItemStages {
		counts := summary.Stages[stage]
		attrs = append(attrs, logging.String("stage_"+string(stage), fmt.Sprintf("ok=%d error=%d skipped=%d pending=%d", counts.OK, counts.Error, counts.Skipped, counts.Pending)))
	}
	msg := "run completed"
	if summary.Interrupted {
		msg = "run interrupted"
	}
	logger.Info(msg, logging.Args(attrs...)...)
}
