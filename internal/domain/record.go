package domain

import "time"

// RecordKind enumerates the personal-best categories tracked per activity type.
type RecordKind string

const (
	RecordFastestPace     RecordKind = "fastest_pace"
	RecordLongestDistance RecordKind = "longest_distance"
	RecordLongestDuration RecordKind = "longest_duration"
	RecordMostCalories    RecordKind = "most_calories"
)

// RecordKinds is the fixed evaluation order of record kinds.
var RecordKinds = []RecordKind{RecordFastestPace, RecordLongestDistance, RecordLongestDuration, RecordMostCalories}

// Better reports whether candidate strictly beats current for this kind.
// Pace improves downwards, every other kind improves upwards.
func (k RecordKind) Better(candidate, current float64) bool {
	if k == RecordFastestPace {
		return candidate < current
	}
	return candidate > current
}

// AtLeastAsGood reports whether existing matches or beats candidate.
func (k RecordKind) AtLeastAsGood(existing, candidate float64) bool {
	return !k.Better(candidate, existing)
}

// Unit is the display unit of the record value.
func (k RecordKind) Unit() string {
	switch k {
	case RecordFastestPace:
		return "min/km"
	case RecordLongestDistance:
		return "m"
	case RecordLongestDuration:
		return "s"
	case RecordMostCalories:
		return "kcal"
	default:
		return ""
	}
}

// PersonalRecord is the best known value for an (activity type, kind) pair.
type PersonalRecord struct {
	Type       ActivityType    `json:"activity_type"`
	Kind       RecordKind      `json:"kind"`
	Value      float64         `json:"value"`
	Unit       string          `json:"unit"`
	AchievedAt time.Time       `json:"achieved_at"`
	Source     SourceID        `json:"source"`
	Location   string          `json:"location,omitempty"`
	IsNew      bool            `json:"is_new"`
	Previous   *PersonalRecord `json:"previous,omitempty"`
}

// RecordSet groups records by activity type. Each list holds at most one record
// per kind unless a merge added a supplementing feed record.
type RecordSet map[ActivityType][]PersonalRecord

// Find returns the first record of the given kind for an activity type.
func (s RecordSet) Find(t ActivityType, k RecordKind) (PersonalRecord, bool) {
	for _, rec := range s[t] {
		if rec.Kind == k {
			return rec, true
		}
	}
	return PersonalRecord{}, false
}

func (r PersonalRecord) utc() PersonalRecord {
	r.AchievedAt = r.AchievedAt.UTC()
	if r.Previous != nil {
		prev := r.Previous.utc()
		r.Previous = &prev
	}
	return r
}
