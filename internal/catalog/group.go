package catalog

import "time"

// Item is one discovered unit of work.
type Item struct {
	ID        string
	GroupID   string
	GroupType GroupType
	Role      Role
	// Images are paths relative to the input root, in presentation order.
	Images []string
}

// Group is a set of items hypothesized to share a series identity.
type Group struct {
	ID        string    `json:"id"`
	Type      GroupType `json:"type"`
	SourceDir string    `json:"source_dir"`
	SampleIDs []string  `json:"sample_ids,omitempty"`
	MemberIDs []string  `json:"member_ids"`
	// Items holds every item of the group (samples first, then members) keyed
	// in discovery order.
	Items []Item `json:"-"`
}

// Members returns the member items in group order.
func (g Group) Members() []Item {
	return g.itemsWithRole(RoleMember)
}

// Samples returns the series-sample items in group order.
func (g Group) Samples() []Item {
	return g.itemsWithRole(RoleSeriesSample)
}

func (g Group) itemsWithRole(role Role) []Item {
	out := make([]Item, 0, len(g.Items))
	for _, item := range g.Items {
		if item.Role == role {
			out = append(out, item)
		}
	}
	return out
}

// Series-level fields governed by consensus.
const (
	FieldSeriesName   = "series_name"
	FieldManufacturer = "manufacturer"
	FieldCountry      = "country"
	FieldArtStyle     = "art_style"
)

// ConsensusFieldNames lists the consensus-governed fields in resolution order.
var ConsensusFieldNames = []string{FieldSeriesName, FieldManufacturer, FieldCountry, FieldArtStyle}

// ConsensusFields is the canonical series-level field map.
type ConsensusFields struct {
	SeriesName   Text     `json:"series_name"`
	Manufacturer Text     `json:"manufacturer"`
	Country      Text     `json:"country"`
	ArtStyle     []string `json:"art_style"`
}

// Resolution methods recorded per field.
const (
	MethodUnanimous        = "unanimous"
	MethodVote             = "vote"
	MethodMajorityFallback = "majority_fallback"
	MethodSingleValue      = "single_value"
	MethodNone             = "none"
	MethodSeriesSamples    = "series_samples"
	MethodSingleMember     = "single_member"
)

// FieldResolution explains how one consensus field was decided.
type FieldResolution struct {
	Method     string `json:"method"`
	Candidates int    `json:"candidates"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// ConsensusMeta records how a consensus record was produced.
type ConsensusMeta struct {
	CreatedAt   time.Time                  `json:"created_at"`
	Model       string                     `json:"model"`
	Strategy    string                     `json:"strategy"`
	SampleSize  int                        `json:"sample_size"`
	Resolutions map[string]FieldResolution `json:"resolutions,omitempty"`
}

// ConsensusRecord is the persisted series-level resolution of a group.
type ConsensusRecord struct {
	GroupID         string          `json:"group_id"`
	GroupType       GroupType       `json:"group_type"`
	Fields          ConsensusFields `json:"fields"`
	ConsensusSource []string        `json:"consensus_source"`
	Meta            ConsensusMeta   `json:"consensus_meta"`
}
