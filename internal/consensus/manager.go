package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/logging"
	"archivist/internal/pipeline"
	"archivist/internal/services"
	"archivist/internal/stages"
)

// Source reports where a resolved record came from.
type Source string

const (
	// SourceComputed means the record was computed and written this run.
	SourceComputed Source = "computed"
	// SourceReused means an existing sidecar was reused.
	SourceReused Source = "reused"
	// SourceMemory means the record was computed but could not be written.
	SourceMemory Source = "memory"
)

// Strategies recorded in consensus_meta.
const (
	StrategyVote          = "sample_vote"
	StrategySeriesSamples = "series_samples+sample_vote"
	StrategySingleMember  = "single_member"
)

// Ensurer runs missing stages for an item on demand.
type Ensurer interface {
	EnsureThrough(ctx context.Context, item catalog.Item, target catalog.Status) (pipeline.Result, error)
}

// Voter decides between disagreeing candidates.
type Voter interface {
	Decide(ctx context.Context, req stages.VoteRequest) stages.VoteResult
	Route() config.Route
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Record catalog.ConsensusRecord
	Source Source
	// Votes is the number of vote stage invocations made.
	Votes int
}

// Manager computes and caches consensus records.
type Manager struct {
	ensurer     Ensurer
	voter       Voter
	sidecarName string
	sampleSize  int
	force       bool
	logger      *slog.Logger
	now         func() time.Time

	flight singleflight.Group

	mu       sync.Mutex
	memory   map[string]catalog.ConsensusRecord
	computed map[string]struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a consensus manager.
func NewManager(cfg *config.Config, ensurer Ensurer, voter Voter, opts ...Option) *Manager {
	m := &Manager{
		ensurer:     ensurer,
		voter:       voter,
		sidecarName: cfg.Consensus.SidecarName,
		sampleSize:  cfg.Consensus.SampleSize,
		force:       cfg.Consensus.ForceRecompute,
		logger:      logging.NewNop(),
		now:         time.Now,
		memory:      map[string]catalog.ConsensusRecord{},
		computed:    map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "consensus")
	return m
}

// SidecarPath returns where the group's consensus record is stored.
func (m *Manager) SidecarPath(group catalog.Group) string {
	return filepath.Join(group.SourceDir, m.sidecarName)
}

// Resolve returns the consensus record for group, computing it when no
// reusable sidecar exists. Concurrent calls for one group share a single
// computation.
func (m *Manager) Resolve(ctx context.Context, group catalog.Group) (Resolution, error) {
	if !group.Type.HasConsensus() {
		return Resolution{}, services.Wrap(services.ErrValidation, "consensus", "resolve", fmt.Sprintf("group %s of type %s has no consensus", group.ID, group.Type), nil)
	}
	v, err, _ := m.flight.Do(group.ID, func() (any, error) {
		return m.resolve(ctx, group)
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

func (m *Manager) resolve(ctx context.Context, group catalog.Group) (Resolution, error) {
	ctx = services.WithGroupID(ctx, group.ID)
	logger := logging.WithContext(ctx, m.logger)

	if m.reusable(group.ID) {
		if rec, ok := m.inMemory(group.ID); ok {
			return Resolution{Record: rec, Source: SourceMemory}, nil
		}
		rec, found, err := m.readSidecar(group)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "consensus sidecar unreadable; recomputing",
				"consensus_sidecar_invalid",
				logging.String("path", m.SidecarPath(group)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "consensus is recomputed and the sidecar replaced"),
				logging.String(logging.FieldErrorHint, "inspect the sidecar file"),
			)
		case found:
			logger.Debug("consensus reused", logging.String(logging.FieldEventType, "consensus_reused"))
			return Resolution{Record: rec, Source: SourceReused}, nil
		}
	}

	res, err := m.compute(ctx, logger, group)
	if err != nil {
		return Resolution{}, err
	}
	m.mu.Lock()
	m.computed[group.ID] = struct{}{}
	m.mu.Unlock()

	res.Source = SourceComputed
	if err := fileutil.WriteJSONAtomic(m.SidecarPath(group), res.Record); err != nil {
		wrapped := services.Wrap(services.ErrPersistence, "consensus", "write sidecar", group.ID, err)
		logging.WarnWithContext(logger, "consensus sidecar write failed",
			"consensus_persist_failed",
			logging.String("path", m.SidecarPath(group)),
			logging.Error(wrapped),
			logging.String(logging.FieldImpact, "record kept in memory for this run only"),
			logging.String(logging.FieldErrorHint, "check permissions on the group directory"),
		)
		m.mu.Lock()
		m.memory[group.ID] = res.Record
		m.mu.Unlock()
		res.Source = SourceMemory
	}
	logger.Info("consensus resolved",
		logging.String(logging.FieldEventType, "consensus_resolved"),
		logging.String("source", string(res.Source)),
		logging.String("strategy", res.Record.Meta.Strategy),
		logging.Strings("consensus_source", res.Record.ConsensusSource),
		logging.Int("votes", res.Votes),
	)
	return res, nil
}

// Lookup returns the authoritative record for group: the in-memory record
// when this run failed to write one, otherwise the sidecar on disk.
func (m *Manager) Lookup(group catalog.Group) (catalog.ConsensusRecord, error) {
	if rec, ok := m.inMemory(group.ID); ok {
		return rec, nil
	}
	rec, found, err := m.readSidecar(group)
	if err != nil {
		return catalog.ConsensusRecord{}, services.Wrap(services.ErrPersistence, "consensus", "lookup", group.ID, err)
	}
	if !found {
		return catalog.ConsensusRecord{}, services.Wrap(services.ErrNotFound, "consensus", "lookup", "no consensus record for "+group.ID, nil)
	}
	return rec, nil
}

func (m *Manager) readSidecar(group catalog.Group) (catalog.ConsensusRecord, bool, error) {
	var rec catalog.ConsensusRecord
	found, err := fileutil.ReadJSON(m.SidecarPath(group), &rec)
	if err != nil || !found {
		return catalog.ConsensusRecord{}, found, err
	}
	if rec.GroupID != group.ID {
		return catalog.ConsensusRecord{}, true, fmt.Errorf("sidecar belongs to group %q", rec.GroupID)
	}
	return rec, true, nil
}

func (m *Manager) reusable(groupID string) bool {
	if !m.force {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, done := m.computed[groupID]
	return done
}

func (m *Manager) inMemory(groupID string) (catalog.ConsensusRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.memory[groupID]
	return rec, ok
}

func (m *Manager) compute(ctx context.Context, logger *slog.Logger, group catalog.Group) (Resolution, error) {
	members := group.Members()
	if len(members) == 0 {
		return Resolution{}, services.Wrap(services.ErrValidation, "consensus", "compute", "group "+group.ID+" has no members", nil)
	}
	size := m.sampleSize
	if size <= 0 || size > len(members) {
		size = len(members)
	}

	var (
		source       []string
		observations = map[string][]observation{}
	)
	for _, item := range members[:size] {
		res, err := m.ensurer.EnsureThrough(ctx, item, catalog.StatusFunctionDone)
		if err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			logging.WarnWithContext(logger, "consensus sample unavailable",
				"consensus_sample_failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sample excluded from consensus"),
				logging.String(logging.FieldErrorHint, "inspect the item record"),
			)
			continue
		}
		source = append(source, item.ID)
		for _, field := range catalog.ConsensusFieldNames {
			observations[field] = append(observations[field], observation{itemID: item.ID, value: observedValue(res.Record, field)})
		}
	}

	rec := catalog.ConsensusRecord{
		GroupID:         group.ID,
		GroupType:       group.Type,
		ConsensusSource: source,
		Fields:          catalog.ConsensusFields{ArtStyle: []string{}},
		Meta: catalog.ConsensusMeta{
			CreatedAt:   m.now().UTC(),
			Model:       m.voter.Route().Primary.String(),
			Strategy:    StrategyVote,
			SampleSize:  m.sampleSize,
			Resolutions: map[string]catalog.FieldResolution{},
		},
	}
	if rec.ConsensusSource == nil {
		rec.ConsensusSource = []string{}
	}
	if len(members) == 1 {
		rec.Meta.Strategy = StrategySingleMember
	} else if group.Type == catalog.GroupTypeA {
		rec.Meta.Strategy = StrategySeriesSamples
	}

	out := Resolution{}
	for _, field := range catalog.ConsensusFieldNames {
		if field == catalog.FieldSeriesName && group.Type == catalog.GroupTypeA {
			v, resolution, err := m.seriesFromSamples(ctx, logger, group)
			if err != nil {
				return Resolution{}, err
			}
			setField(&rec.Fields, field, v)
			rec.Meta.Resolutions[field] = resolution
			continue
		}
		obs := observations[field]
		if len(members) == 1 {
			var v value
			if len(obs) > 0 {
				v = obs[0].value
			}
			setField(&rec.Fields, field, v)
			rec.Meta.Resolutions[field] = catalog.FieldResolution{Method: catalog.MethodSingleMember, Candidates: nonNull(obs)}
			continue
		}
		v, resolution, voted, err := m.resolveField(ctx, logger, group, field, obs)
		if err != nil {
			return Resolution{}, err
		}
		if voted {
			out.Votes++
		}
		setField(&rec.Fields, field, v)
		rec.Meta.Resolutions[field] = resolution
	}
	out.Record = rec
	return out, nil
}

// resolveField decides one field from sampled observations. The bool reports
// whether the vote stage was invoked.
func (m *Manager) resolveField(ctx context.Context, logger *slog.Logger, group catalog.Group, field string, obs []observation) (value, catalog.FieldResolution, bool, error) {
	tallies := distinct(obs)
	switch {
	case len(tallies) == 0:
		return nil, catalog.FieldResolution{Method: catalog.MethodNone}, false, nil
	case nonNull(obs) < 2:
		return tallies[0].value, catalog.FieldResolution{Method: catalog.MethodSingleValue, Candidates: 1}, false, nil
	case len(tallies) == 1:
		return tallies[0].value, catalog.FieldResolution{Method: catalog.MethodUnanimous, Candidates: 1}, false, nil
	}

	candidates := make([]stages.Candidate, len(tallies))
	for i, t := range tallies {
		candidates[i] = stages.Candidate{Value: t.value.display(), Sources: append([]string{}, t.sources...)}
	}
	vote := m.voter.Decide(ctx, stages.VoteRequest{GroupID: group.ID, Field: field, Candidates: candidates})
	if vote.Cancelled {
		return nil, catalog.FieldResolution{}, true, ctx.Err()
	}
	if vote.Valid {
		return tallies[vote.Index].value, catalog.FieldResolution{
			Method:     catalog.MethodVote,
			Candidates: len(tallies),
			Reasoning:  vote.Reasoning,
		}, true, nil
	}

	fallback := majority(tallies)
	cause := "vote returned no valid candidate"
	if vote.Err != nil {
		cause = vote.Err.Error()
	}
	logging.WarnWithContext(logger, "consensus vote unusable; using majority",
		"consensus_vote_fallback",
		logging.String("field", field),
		logging.String("chosen", fallback.value.display()),
		logging.String("cause", cause),
		logging.String(logging.FieldImpact, "most frequent sampled value used"),
		logging.String(logging.FieldErrorHint, "check the vote stage model"),
	)
	return fallback.value, catalog.FieldResolution{
		Method:     catalog.MethodMajorityFallback,
		Candidates: len(tallies),
		Reasoning:  cause,
	}, true, nil
}

// seriesFromSamples takes the most frequent series name reported by the
// group's series-sample items.
func (m *Manager) seriesFromSamples(ctx context.Context, logger *slog.Logger, group catalog.Group) (value, catalog.FieldResolution, error) {
	var obs []observation
	for _, item := range group.Samples() {
		res, err := m.ensurer.EnsureThrough(ctx, item, catalog.StatusFactDone)
		if err != nil {
			if ctx.Err() != nil {
				return nil, catalog.FieldResolution{}, ctx.Err()
			}
			logging.WarnWithContext(logger, "series sample unavailable",
				"consensus_series_sample_failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sample excluded from the series name"),
			)
			continue
		}
		obs = append(obs, observation{itemID: item.ID, value: observedValue(res.Record, catalog.FieldSeriesName)})
	}
	tallies := distinct(obs)
	if len(tallies) == 0 {
		return nil, catalog.FieldResolution{Method: catalog.MethodNone}, nil
	}
	best := majority(tallies)
	return best.value, catalog.FieldResolution{Method: catalog.MethodSeriesSamples, Candidates: len(tallies)}, nil
}
