package domain

import "time"

// InsightKind classifies an advisory message.
type InsightKind string

const (
	InsightPositive InsightKind = "positive"
	InsightTip      InsightKind = "tip"
	InsightWarning  InsightKind = "warning"
)

// InsightPriority orders insights for display.
type InsightPriority string

const (
	PriorityLow    InsightPriority = "low"
	PriorityMedium InsightPriority = "medium"
	PriorityHigh   InsightPriority = "high"
)

// Insight is a heuristic message derived from an aggregate. It is regenerated on
// every aggregation pass and never stored on its own.
type Insight struct {
	ID          string          `json:"id"`
	Kind        InsightKind     `json:"kind"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Value       float64         `json:"value"`
	Actionable  bool            `json:"actionable"`
	Priority    InsightPriority `json:"priority"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// SourceError records a source contribution that was dropped from an aggregate.
type SourceError struct {
	Source   SourceID `json:"source"`
	Identity string   `json:"identity,omitempty"`
	Message  string   `json:"message"`
}

// AggregatedStats is the merged view of every source for one user and window.
// It is built wholesale per aggregation pass and treated as read-only afterwards.
type AggregatedStats struct {
	UserID             string                  `json:"user_id"`
	Window             Window                  `json:"window"`
	Range              TimeRange               `json:"range"`
	TotalDistanceM     float64                 `json:"total_distance_m"`
	TotalDurationSec   float64                 `json:"total_duration_sec"`
	TotalCalories      float64                 `json:"total_calories"`
	WorkoutCount       int                     `json:"workout_count"`
	WeeklyDistanceM    float64                 `json:"weekly_distance_m"`
	RecentWorkoutCount int                     `json:"recent_workout_count"`
	ConsistencyScore   float64                 `json:"consistency_score"`
	ImprovementPct     float64                 `json:"improvement_pct"`
	MonthlyGoalM       float64                 `json:"monthly_goal_m"`
	Series             map[Metric][]ChartPoint `json:"series"`
	Records            RecordSet               `json:"records"`
	Insights           []Insight               `json:"insights"`
	SourceErrors       []SourceError           `json:"source_errors,omitempty"`
	ComputedAt         time.Time               `json:"computed_at"`
}

// UTC returns a copy of s with every timestamp expressed in UTC, so the
// aggregate survives a JSON round trip unchanged.
func (s AggregatedStats) UTC() AggregatedStats {
	out := s
	out.Range = TimeRange{Start: s.Range.Start.UTC(), End: s.Range.End.UTC()}
	out.ComputedAt = s.ComputedAt.UTC()

	if s.Series != nil {
		out.Series = make(map[Metric][]ChartPoint, len(s.Series))
		for metric, points := range s.Series {
			if points == nil {
				out.Series[metric] = nil
				continue
			}
			copied := make([]ChartPoint, len(points))
			for i, p := range points {
				p.Bucket = p.Bucket.UTC()
				copied[i] = p
			}
			out.Series[metric] = copied
		}
	}

	if s.Records != nil {
		out.Records = make(RecordSet, len(s.Records))
		for typ, recs := range s.Records {
			if recs == nil {
				out.Records[typ] = nil
				continue
			}
			copied := make([]PersonalRecord, len(recs))
			for i, r := range recs {
				copied[i] = r.utc()
			}
			out.Records[typ] = copied
		}
	}

	if s.Insights != nil {
		out.Insights = make([]Insight, len(s.Insights))
		for i, in := range s.Insights {
			in.GeneratedAt = in.GeneratedAt.UTC()
			out.Insights[i] = in
		}
	}
	return out
}
