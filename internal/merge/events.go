package merge

import (
	"sort"
	"time"

	"example.com/aggregator/internal/domain"
)

// DuplicateTolerance is how close two start times from different sources must
// be for the events to count as the same workout.
const DuplicateTolerance = time.Minute

// MergeEvents concatenates the event sets of several sources and drops
// cross-source duplicates, keeping the event from the higher priority source.
// Events reported twice by the same source are kept; the source owns them.
func MergeEvents(sets ...[]domain.ActivityEvent) []domain.ActivityEvent {
	all := make([]domain.ActivityEvent, 0)
	for _, set := range sets {
		all = append(all, set...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Source.Priority() < all[j].Source.Priority()
	})

	kept := make([]domain.ActivityEvent, 0, len(all))
	for _, candidate := range all {
		if isDuplicate(kept, candidate) {
			continue
		}
		kept = append(kept, candidate)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartedAt.Before(kept[j].StartedAt)
	})
	return kept
}

func isDuplicate(kept []domain.ActivityEvent, candidate domain.ActivityEvent) bool {
	for _, existing := range kept {
		if existing.Source == candidate.Source || existing.Type != candidate.Type {
			continue
		}
		delta := existing.StartedAt.Sub(candidate.StartedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < DuplicateTolerance {
			return true
		}
	}
	return false
}
