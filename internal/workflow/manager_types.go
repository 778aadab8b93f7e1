package workflow

import (
	"sync"
	"time"

	"archivist/internal/catalog"
	"archivist/internal/consensus"
	"archivist/internal/grouping"
)

// StageCounts tallies stage metadata across items.
type StageCounts struct {
	OK      int
	Error   int
	Skipped int
	Pending int
}

// ItemError is an item-level failure that stopped the item's pipeline.
type ItemError struct {
	ItemID string
	Err    string
}

// Summary is the end-of-run report.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Groups    map[catalog.GroupType]int
	Items     int
	Samples   int
	Finalized int
	Pending   int

	Stages map[catalog.Stage]StageCounts

	Consensus        map[consensus.Source]int
	ConsensusFailed  int
	FinalizeFailures int

	ItemErrors []ItemError
	Unresolved []*grouping.AmbiguityError

	ModelCalls   int
	CallOutcomes map[string]int

	// Interrupted is true when the run was cancelled before completing.
	Interrupted bool
}

// tracker collects concurrent per-item and per-group outcomes.
type tracker struct {
	mu               sync.Mutex
	itemErrors       []ItemError
	consensus        map[consensus.Source]int
	consensusFailed  int
	finalizeFailures int
}

func newTracker() *tracker {
	return &tracker{consensus: map[consensus.Source]int{}}
}

func (t *tracker) itemFailed(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.itemErrors = append(t.itemErrors, ItemError{ItemID: id, Err: err.Error()})
}

func (t *tracker) resolved(source consensus.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consensus[source]++
}

func (t *tracker) unresolvedGroup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consensusFailed++
}

func (t *tracker) finalizeFailed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalizeFailures += n
}
