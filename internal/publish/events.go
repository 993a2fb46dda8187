package publish

import (
	"time"

	"example.com/aggregator/internal/domain"
)

// EventStatsAggregated is the event_type header of every published aggregate.
const EventStatsAggregated = "stats.aggregated"

// StatsAggregated is the message emitted whenever a merged aggregate is published.
type StatsAggregated struct {
	UserID           string               `json:"user_id"`
	Window           domain.Window        `json:"window"`
	RangeStart       time.Time            `json:"range_start"`
	RangeEnd         time.Time            `json:"range_end"`
	TotalDistanceM   float64              `json:"total_distance_m"`
	TotalDurationSec float64              `json:"total_duration_sec"`
	TotalCalories    float64              `json:"total_calories"`
	WorkoutCount     int                  `json:"workout_count"`
	ConsistencyScore float64              `json:"consistency_score"`
	ImprovementPct   float64              `json:"improvement_pct"`
	Records          domain.RecordSet     `json:"records"`
	Insights         []domain.Insight     `json:"insights"`
	SourceErrors     []domain.SourceError `json:"source_errors,omitempty"`
	ComputedAt       time.Time            `json:"computed_at"`
}

func newStatsAggregated(stats domain.AggregatedStats) StatsAggregated {
	return StatsAggregated{
		UserID:           stats.UserID,
		Window:           stats.Window,
		RangeStart:       stats.Range.Start,
		RangeEnd:         stats.Range.End,
		TotalDistanceM:   stats.TotalDistanceM,
		TotalDurationSec: stats.TotalDurationSec,
		TotalCalories:    stats.TotalCalories,
		WorkoutCount:     stats.WorkoutCount,
		ConsistencyScore: stats.ConsistencyScore,
		ImprovementPct:   stats.ImprovementPct,
		Records:          stats.Records,
		Insights:         stats.Insights,
		SourceErrors:     stats.SourceErrors,
		ComputedAt:       stats.ComputedAt,
	}
}
