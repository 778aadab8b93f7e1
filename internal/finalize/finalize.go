// Package finalize merges resolved consensus into member records.
//
// Consensus always wins: series name, manufacturer, country and art style are
// overwritten on every member, consensus_source is recorded, and correction is
// marked skipped because the group is already consistent.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"archivist/internal/catalog"
	"archivist/internal/logging"
	"archivist/internal/services"
)

// CorrectionSkippedDetail is recorded on correction metadata of finalized
// consensus members.
const CorrectionSkippedDetail = "consensus applied"

// Lookup returns the authoritative consensus record for a group.
type Lookup interface {
	Lookup(group catalog.Group) (catalog.ConsensusRecord, error)
}

// Records reads and writes member records. *store.Store satisfies it; the
// pipeline runner adds an in-memory fallback for records the store rejected.
type Records interface {
	Read(id string) (catalog.Record, error)
	Write(id string, rec catalog.Record) error
}

// Failure is one member that could not be finalized.
type Failure struct {
	ItemID string
	Err    error
}

// Report summarizes one Finalize call.
type Report struct {
	GroupID   string
	Finalized int
	Unchanged int
	Failures  []Failure
}

// Finalizer applies consensus records to stored members.
type Finalizer struct {
	records Records
	lookup  Lookup
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Finalizer.
type Option func(*Finalizer)

// WithLogger sets the finalizer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs a Finalizer.
func New(records Records, lookup Lookup, opts ...Option) *Finalizer {
	f := &Finalizer{records: records, lookup: lookup, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.NewComponentLogger(f.logger, "finalize")
	return f
}

// Finalize merges the group's consensus into each member. The consensus
// record is looked up again rather than passed in, so a record written moments
// earlier is read back before use. Member failures are reported, not returned.
func (f *Finalizer) Finalize(ctx context.Context, group catalog.Group) (Report, error) {
	report := Report{GroupID: group.ID}
	if !group.Type.HasConsensus() {
		return report, services.Wrap(services.ErrValidation, "finalize", "finalize", fmt.Sprintf("group %s of type %s has no consensus", group.ID, group.Type), nil)
	}
	ctx = services.WithGroupID(ctx, group.ID)
	logger := logging.WithContext(ctx, f.logger)

	consensus, err := f.lookup.Lookup(group)
	if err != nil {
		return report, err
	}

	for _, id := range group.MemberIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		changed, err := f.merge(id, consensus)
		switch {
		case err != nil:
			report.Failures = append(report.Failures, Failure{ItemID: id, Err: err})
			details := services.Details(err)
			logging.WarnWithContext(logger, "finalize failed for item",
				"finalize_item_failed",
				logging.String(logging.FieldItemID, id),
				logging.String(logging.FieldErrorKind, details.Kind),
				logging.Error(err),
				logging.String(logging.FieldImpact, "item keeps its per-item values; other members continue"),
				logging.String(logging.FieldErrorHint, "inspect or delete the item record and rerun"),
			)
		case changed:
			report.Finalized++
		default:
			report.Unchanged++
		}
	}
	logger.Info("group finalized",
		logging.String(logging.FieldEventType, "group_finalized"),
		logging.Int("finalized", report.Finalized),
		logging.Int("unchanged", report.Unchanged),
		logging.Int("failed", len(report.Failures)),
	)
	return report, nil
}

func (f *Finalizer) merge(id string, consensus catalog.ConsensusRecord) (bool, error) {
	rec, err := f.records.Read(id)
	if err != nil {
		return false, err
	}
	if applied(rec, consensus) {
		return false, nil
	}
	Apply(&rec, consensus, f.now())
	if err := f.records.Write(id, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Apply overwrites rec's series-level fields with consensus and marks it
// finalized.
func Apply(rec *catalog.Record, consensus catalog.ConsensusRecord, now time.Time) {
	rec.Series.Name = consensus.Fields.SeriesName
	rec.Manufacturer = consensus.Fields.Manufacturer
	rec.Country = consensus.Fields.Country
	rec.ArtStyle = append([]string{}, consensus.Fields.ArtStyle...)
	rec.ConsensusSource = append([]string{}, consensus.ConsensusSource...)
	rec.SetMeta(catalog.StageCorrection, catalog.StageMeta{
		Status:    catalog.MetaSkipped,
		Timestamp: now.UTC(),
		Detail:    CorrectionSkippedDetail,
	})
	rec.Status = catalog.StatusFinalized
}

// applied reports whether rec already carries consensus.
func applied(rec catalog.Record, consensus catalog.ConsensusRecord) bool {
	return rec.Status == catalog.StatusFinalized &&
		rec.CorrectionMeta != nil && rec.CorrectionMeta.Status == catalog.MetaSkipped &&
		rec.Series.Name == consensus.Fields.SeriesName &&
		rec.Manufacturer == consensus.Fields.Manufacturer &&
		rec.Country == consensus.Fields.Country &&
		slices.Equal(rec.ArtStyle, consensus.Fields.ArtStyle) &&
		slices.Equal(rec.ConsensusSource, consensus.ConsensusSource)
}
