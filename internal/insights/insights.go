// Package insights turns an aggregate into short advisory messages.
package insights

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/aggregator/internal/domain"
)

const (
	goalOnTrackPct       = 85.0
	consistencyThreshold = 70.0
	improvementThreshold = 10.0
	overtrainingWorkouts = 5
	weeksPerMonth        = 4
)

var insightNamespace = uuid.MustParse("5b0c1c53-0f5e-4c8a-9f43-3a39f1b2b7de")

type rule func(stats domain.AggregatedStats) (domain.Insight, bool)

// rules run in display order.
var rules = []rule{goalAchievement, consistency, performanceTrend, overtraining}

// Generate evaluates every rule against the aggregate. The output order is
// fixed and IDs are derived from the aggregate, so equal inputs yield equal output.
func Generate(stats domain.AggregatedStats, now time.Time) []domain.Insight {
	out := make([]domain.Insight, 0, len(rules))
	for _, r := range rules {
		insight, ok := r(stats)
		if !ok {
			continue
		}
		insight.ID = uuid.NewSHA1(insightNamespace, []byte(fmt.Sprintf("%s|%s|%s|%d", stats.UserID, stats.Window, insight.Title, now.UnixNano()))).String()
		insight.GeneratedAt = now
		out = append(out, insight)
	}
	return out
}

func goalAchievement(stats domain.AggregatedStats) (domain.Insight, bool) {
	if stats.MonthlyGoalM <= 0 {
		return domain.Insight{}, false
	}
	pct := stats.WeeklyDistanceM * weeksPerMonth * 100 / stats.MonthlyGoalM
	if pct < goalOnTrackPct {
		return domain.Insight{}, false
	}
	return domain.Insight{
		Kind:     domain.InsightPositive,
		Title:    "Goal Achievement",
		Message:  fmt.Sprintf("You're on pace to reach %.0f%% of your monthly distance goal.", pct),
		Value:    pct,
		Priority: domain.PriorityMedium,
	}, true
}

func consistency(stats domain.AggregatedStats) (domain.Insight, bool) {
	if stats.ConsistencyScore <= consistencyThreshold {
		return domain.Insight{}, false
	}
	return domain.Insight{
		Kind:     domain.InsightPositive,
		Title:    "Consistency",
		Message:  fmt.Sprintf("You worked out on %.0f%% of days in this period. Keep it up!", stats.ConsistencyScore),
		Value:    stats.ConsistencyScore,
		Priority: domain.PriorityMedium,
	}, true
}

func performanceTrend(stats domain.AggregatedStats) (domain.Insight, bool) {
	if stats.ImprovementPct <= improvementThreshold {
		return domain.Insight{}, false
	}
	return domain.Insight{
		Kind:     domain.InsightTip,
		Title:    "Performance Trend",
		Message:  fmt.Sprintf("Your weekly distance is up %.1f%% on last week.", stats.ImprovementPct),
		Value:    stats.ImprovementPct,
		Priority: domain.PriorityLow,
	}, true
}

func overtraining(stats domain.AggregatedStats) (domain.Insight, bool) {
	if stats.RecentWorkoutCount <= overtrainingWorkouts {
		return domain.Insight{}, false
	}
	return domain.Insight{
		Kind:       domain.InsightWarning,
		Title:      "Recovery",
		Message:    fmt.Sprintf("%d workouts in the last 7 days. Schedule a rest day to avoid overtraining.", stats.RecentWorkoutCount),
		Value:      float64(stats.RecentWorkoutCount),
		Actionable: true,
		Priority:   domain.PriorityHigh,
	}, true
}
