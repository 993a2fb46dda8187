package merge

import (
	"sort"

	"example.com/aggregator/internal/domain"
)

// MergeRecords folds feed records into the device record set. Device records
// are never removed or replaced. A feed record is appended only when no record
// of the same (activity type, kind) already matches or beats its value.
func MergeRecords(device, feed domain.RecordSet) domain.RecordSet {
	out := make(domain.RecordSet, len(device)+len(feed))
	for activityType, recs := range device {
		out[activityType] = append([]domain.PersonalRecord(nil), recs...)
	}

	for _, activityType := range sortedTypes(feed) {
		for _, candidate := range feed[activityType] {
			if dominated(out[activityType], candidate) {
				continue
			}
			out[activityType] = append(out[activityType], candidate)
		}
	}
	return out
}

func dominated(existing []domain.PersonalRecord, candidate domain.PersonalRecord) bool {
	for _, rec := range existing {
		if rec.Kind == candidate.Kind && candidate.Kind.AtLeastAsGood(rec.Value, candidate.Value) {
			return true
		}
	}
	return false
}

func sortedTypes(set domain.RecordSet) []domain.ActivityType {
	types := make([]domain.ActivityType, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
