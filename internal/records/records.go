// Package records derives personal bests from a merged event set.
package records

import (
	"time"

	"example.com/aggregator/internal/domain"
)

// NewRecordWindow is how recent a record must be to be flagged as new.
const NewRecordWindow = 7 * 24 * time.Hour

// Compute groups events by activity type and finds, per type, the fastest
// positive pace, the longest distance, the longest duration and the most
// calories among events that report calories. Ties keep the earliest event in
// input order. Kinds without a qualifying event are omitted.
func Compute(events []domain.ActivityEvent, now time.Time) domain.RecordSet {
	groups := make(map[domain.ActivityType][]domain.ActivityEvent)
	for _, event := range events {
		groups[event.Type] = append(groups[event.Type], event)
	}

	out := make(domain.RecordSet, len(groups))
	for activityType, group := range groups {
		recs := make([]domain.PersonalRecord, 0, len(domain.RecordKinds))
		for _, kind := range domain.RecordKinds {
			best, value, ok := bestOf(group, kind)
			if !ok {
				continue
			}
			recs = append(recs, domain.PersonalRecord{
				Type:       activityType,
				Kind:       kind,
				Value:      value,
				Unit:       kind.Unit(),
				AchievedAt: best.StartedAt,
				Source:     best.Source,
				Location:   best.Location,
				IsNew:      isNew(best.StartedAt, now),
			})
		}
		if len(recs) > 0 {
			out[activityType] = recs
		}
	}
	return out
}

func bestOf(group []domain.ActivityEvent, kind domain.RecordKind) (domain.ActivityEvent, float64, bool) {
	var (
		best  domain.ActivityEvent
		value float64
		found bool
	)
	for _, event := range group {
		v, ok := valueFor(event, kind)
		if !ok {
			continue
		}
		if !found || kind.Better(v, value) {
			best, value, found = event, v, true
		}
	}
	return best, value, found
}

func valueFor(event domain.ActivityEvent, kind domain.RecordKind) (float64, bool) {
	switch kind {
	case domain.RecordFastestPace:
		pace := event.Pace()
		return pace, pace > 0
	case domain.RecordLongestDistance:
		return event.DistanceM, event.DistanceM > 0
	case domain.RecordLongestDuration:
		return event.DurationSec, event.DurationSec > 0
	case domain.RecordMostCalories:
		if event.Calories == nil {
			return 0, false
		}
		return *event.Calories, true
	default:
		return 0, false
	}
}

func isNew(achieved, now time.Time) bool {
	return !achieved.After(now) && now.Sub(achieved) <= NewRecordWindow
}

// Annotate links each current record to the previously published record of the
// same (activity type, kind) when the current one improves on it.
func Annotate(current, previous domain.RecordSet) domain.RecordSet {
	if len(previous) == 0 {
		return current
	}
	out := make(domain.RecordSet, len(current))
	for activityType, recs := range current {
		annotated := make([]domain.PersonalRecord, len(recs))
		for i, rec := range recs {
			if prior, ok := previous.Find(activityType, rec.Kind); ok && rec.Kind.Better(rec.Value, prior.Value) {
				prior.Previous = nil
				rec.Previous = &prior
			}
			annotated[i] = rec
		}
		out[activityType] = annotated
	}
	return out
}
