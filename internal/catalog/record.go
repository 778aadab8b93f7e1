package catalog

import (
	"time"
)

// GroupType classifies how a group was discovered.
type GroupType string

const (
	// GroupTypeA is a directory with a dedicated series-sample folder.
	GroupTypeA GroupType = "A"
	// GroupTypeB is a directory whose members share a series but have no samples.
	GroupTypeB GroupType = "B"
	// GroupTypeC is a root-level prefix group holding one multi-image item.
	GroupTypeC GroupType = "C"
)

// HasConsensus reports whether groups of this type resolve series-level fields.
func (t GroupType) HasConsensus() bool {
	return t == GroupTypeA || t == GroupTypeB
}

// Role distinguishes catalogued members from series-sample items.
type Role string

const (
	RoleMember       Role = "member"
	RoleSeriesSample Role = "series_sample"
)

// Stage identifies one analysis step.
type Stage string

const (
	StageFact       Stage = "fact"
	StageStyle      Stage = "style"
	StageFunction   Stage = "function"
	StageCorrection Stage = "correction"
	StageVote       Stage = "vote"
)

// ItemStages are the stages recorded on item records, in execution order.
var ItemStages = []Stage{StageFact, StageStyle, StageFunction, StageCorrection}

// Status is an item's position in the stage state machine.
type Status string

const (
	StatusDiscovered       Status = "DISCOVERED"
	StatusFactDone         Status = "FACT_DONE"
	StatusStyleDone        Status = "STYLE_DONE"
	StatusFunctionDone     Status = "FUNCTION_DONE"
	StatusCorrectionDone   Status = "CORRECTION_DONE"
	StatusConsensusPending Status = "CONSENSUS_PENDING"
	StatusFinalized        Status = "FINALIZED"
)

var statusRank = map[Status]int{
	StatusDiscovered:       0,
	StatusFactDone:         1,
	StatusStyleDone:        2,
	StatusFunctionDone:     3,
	StatusCorrectionDone:   4,
	StatusConsensusPending: 4,
	StatusFinalized:        5,
}

// Reached reports whether s is at or beyond target. CORRECTION_DONE and
// CONSENSUS_PENDING are alternative branches of equal rank.
func (s Status) Reached(target Status) bool {
	rank, ok := statusRank[s]
	if !ok {
		return false
	}
	return rank >= statusRank[target]
}

// MetaStatus is the outcome recorded for one stage.
type MetaStatus string

const (
	MetaOK      MetaStatus = "ok"
	MetaError   MetaStatus = "error"
	MetaSkipped MetaStatus = "skipped"
)

// StageMeta records how a stage result was obtained.
type StageMeta struct {
	Status    MetaStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Model     string     `json:"model"`
	Provider  string     `json:"provider"`
	Error     Text       `json:"error"`
	Attempts  int        `json:"attempts"`
	LatencyMS int64      `json:"latency_ms"`
	Detail    string     `json:"detail,omitempty"`
}

// OK reports whether the stage produced a usable value.
func (m *StageMeta) OK() bool {
	return m != nil && m.Status == MetaOK
}

// Series carries the series identity of an item.
type Series struct {
	Name Text `json:"name"`
}

// Observed holds the series-level values an item's own stages reported.
// Consensus merges never modify it.
type Observed struct {
	SeriesName   Text     `json:"series_name"`
	Manufacturer Text     `json:"manufacturer"`
	Country      Text     `json:"country"`
	ArtStyle     []string `json:"art_style"`
}

// Record is the persisted state of one item.
type Record struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	GroupType GroupType `json:"group_type"`
	Role      Role      `json:"role"`
	Images    []string  `json:"images"`
	Status    Status    `json:"status"`

	Title         Text     `json:"title"`
	Manufacturer  Text     `json:"manufacturer"`
	Country       Text     `json:"country"`
	Year          Text     `json:"year"`
	Inscriptions  []string `json:"inscriptions"`
	Evidence      []string `json:"evidence"`
	Series        Series   `json:"series"`
	ArtStyle      []string `json:"art_style"`
	ArtStyleOther Text     `json:"art_style_other"`
	Function      []string `json:"function"`
	FunctionOther Text     `json:"function_other"`

	ConsensusSource []string `json:"consensus_source,omitempty"`
	// Raw is nil on records written before per-item observations were kept.
	Raw *Observed `json:"raw,omitempty"`

	FactMeta       *StageMeta `json:"fact_meta,omitempty"`
	StyleMeta      *StageMeta `json:"style_meta,omitempty"`
	FunctionMeta   *StageMeta `json:"function_meta,omitempty"`
	CorrectionMeta *StageMeta `json:"correction_meta,omitempty"`
}

// NewRecord returns a DISCOVERED record for item.
func NewRecord(item Item) Record {
	return Record{
		ID:           item.ID,
		GroupID:      item.GroupID,
		GroupType:    item.GroupType,
		Role:         item.Role,
		Images:       append([]string{}, item.Images...),
		Status:       StatusDiscovered,
		Inscriptions: []string{},
		Evidence:     []string{},
		ArtStyle:     []string{},
		Function:     []string{},
	}
}

// Meta returns the stored metadata for stage, or nil.
func (r *Record) Meta(stage Stage) *StageMeta {
	switch stage {
	case StageFact:
		return r.FactMeta
	case StageStyle:
		return r.StyleMeta
	case StageFunction:
		return r.FunctionMeta
	case StageCorrection:
		return r.CorrectionMeta
	}
	return nil
}

// SetMeta stores metadata for stage. Unknown stages are ignored.
func (r *Record) SetMeta(stage Stage, meta StageMeta) {
	m := meta
	switch stage {
	case StageFact:
		r.FactMeta = &m
	case StageStyle:
		r.StyleMeta = &m
	case StageFunction:
		r.FunctionMeta = &m
	case StageCorrection:
		r.CorrectionMeta = &m
	}
}

// Observations returns rec's observed values, allocating them on first use.
func (r *Record) Observations() *Observed {
	if r.Raw == nil {
		r.Raw = &Observed{ArtStyle: []string{}}
	}
	return r.Raw
}

// Normalize replaces nil lists with empty ones so they serialize as [].
func (r *Record) Normalize() {
	if r.Images == nil {
		r.Images = []string{}
	}
	if r.Inscriptions == nil {
		r.Inscriptions = []string{}
	}
	if r.Evidence == nil {
		r.Evidence = []string{}
	}
	if r.ArtStyle == nil {
		r.ArtStyle = []string{}
	}
	if r.Raw != nil && r.Raw.ArtStyle == nil {
		r.Raw.ArtStyle = []string{}
	}
	if r.Function == nil {
		r.Function = []string{}
	}
}
