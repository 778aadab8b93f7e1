package pipeline

import "archivist/internal/catalog"

var stageStatus = map[catalog.Stage]catalog.Status{
	catalog.StageFact:       catalog.StatusFactDone,
	catalog.StageStyle:      catalog.StatusStyleDone,
	catalog.StageFunction:   catalog.StatusFunctionDone,
	catalog.StageCorrection: catalog.StatusCorrectionDone,
}

func statusAfter(stage catalog.Stage) catalog.Status {
	return stageStatus[stage]
}

// terminalStatus is the furthest status the pipeline moves item to on its own.
func terminalStatus(item catalog.Item) catalog.Status {
	switch {
	case item.Role == catalog.RoleSeriesSample:
		return catalog.StatusFactDone
	case item.GroupType.HasConsensus():
		return catalog.StatusConsensusPending
	default:
		return catalog.StatusFinalized
	}
}

// plan lists the stages needed to reach target for item.
func plan(item catalog.Item, target catalog.Status) []catalog.Stage {
	if item.Role == catalog.RoleSeriesSample {
		return []catalog.Stage{catalog.StageFact}
	}
	var out []catalog.Stage
	for _, stage := range catalog.ItemStages {
		if stage == catalog.StageCorrection && item.GroupType.HasConsensus() {
			break
		}
		out = append(out, stage)
		if statusAfter(stage) == target {
			break
		}
	}
	return out
}

// promote moves current forward to next; it never moves a record backwards.
func promote(current, next catalog.Status) catalog.Status {
	if current.Reached(next) {
		return current
	}
	return next
}

// settle applies the status transitions that follow the last stage.
func settle(rec catalog.Record, target catalog.Status) catalog.Status {
	switch {
	case target == catalog.StatusConsensusPending && rec.Status == catalog.StatusFunctionDone:
		return catalog.StatusConsensusPending
	case target == catalog.StatusFinalized && rec.Status == catalog.StatusCorrectionDone && rec.GroupType == catalog.GroupTypeC:
		return catalog.StatusFinalized
	}
	return rec.Status
}
