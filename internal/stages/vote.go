package stages

import (
	"context"
	"log/slog"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/provider"
)

// Candidate is one distinct value offered to the vote stage.
type Candidate struct {
	Value   string   `json:"value"`
	Sources []string `json:"sources"`
}

// VoteRequest asks the model to pick one candidate for a series-level field.
type VoteRequest struct {
	GroupID    string
	Field      string
	Candidates []Candidate
}

// VoteResult is a validated vote. Valid is false when the call failed or the
// model picked something that is not a candidate.
type VoteResult struct {
	Chosen    string
	Index     int
	Reasoning string
	Valid     bool
	Meta      catalog.StageMeta
	Err       error
	Cancelled bool
}

// VoteStage resolves disagreements between sampled values.
type VoteStage struct {
	base
}

// NewVoteStage constructs the vote stage.
func NewVoteStage(cfg *config.Config, invoker Invoker, logger *slog.Logger) *VoteStage {
	return &VoteStage{base: newBase(catalog.StageVote, cfg, invoker, logger)}
}

// Route returns the resolved route used for votes.
func (s *VoteStage) Route() config.Route { return s.route }

// Decide asks the model to choose among req.Candidates.
func (s *VoteStage) Decide(ctx context.Context, req VoteRequest) VoteResult {
	res := s.invoker.Invoke(ctx, provider.Call{
		Stage:  catalog.StageVote,
		ItemID: req.GroupID + ":" + req.Field,
		System: systemPrompt,
		Prompt: votePrompt(req),
		Route:  s.route,
	})
	out := VoteResult{Index: -1, Meta: res.Meta, Err: res.Err, Cancelled: res.Cancelled()}
	if !res.OK() {
		return out
	}
	var decision VoteDecision
	if err := decodeObject(res.Raw, &decision); err != nil {
		out.Err = err
		return out
	}
	out.Reasoning = strings.TrimSpace(decision.Reasoning)
	chosen, ok := decision.Chosen.Get()
	if !ok {
		return out
	}
	for i, candidate := range req.Candidates {
		if sameValue(candidate.Value, chosen) {
			out.Chosen = candidate.Value
			out.Index = i
			out.Valid = true
			return out
		}
	}
	out.Chosen = chosen
	return out
}

func sameValue(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
