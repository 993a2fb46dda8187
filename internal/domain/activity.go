// Package domain defines the data model shared by the aggregation pipeline.
package domain

import (
	"strings"
	"time"
)

// ActivityType classifies a completed workout.
type ActivityType string

const (
	ActivityRun   ActivityType = "run"
	ActivityWalk  ActivityType = "walk"
	ActivityCycle ActivityType = "cycle"
	ActivityHike  ActivityType = "hike"
	ActivitySwim  ActivityType = "swim"
	ActivityOther ActivityType = "other"
)

// ParseActivityType maps the free-form labels sources use onto an ActivityType.
func ParseActivityType(label string) ActivityType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "run", "running", "trail_running", "treadmill_running":
		return ActivityRun
	case "walk", "walking":
		return ActivityWalk
	case "cycle", "cycling", "ride", "bike", "biking", "road_biking", "mountain_biking":
		return ActivityCycle
	case "hike", "hiking":
		return ActivityHike
	case "swim", "swimming", "lap_swimming", "open_water_swimming":
		return ActivitySwim
	default:
		return ActivityOther
	}
}

// SourceID names the system that produced a record.
type SourceID string

const (
	SourceDevice SourceID = "device"
	SourceFeed   SourceID = "feed"
)

// Priority returns the fixed precedence of a source; lower values win ties.
func (s SourceID) Priority() int {
	switch s {
	case SourceDevice:
		return 0
	case SourceFeed:
		return 1
	default:
		return 2
	}
}

// ActivityEvent is one completed activity as reported by a source. Values are
// never mutated once a source has produced them.
type ActivityEvent struct {
	ID           string
	Source       SourceID
	Identity     string
	Type         ActivityType
	StartedAt    time.Time
	DurationSec  float64
	DistanceM    float64
	PaceMinPerKm float64
	Calories     *float64
	Location     string
}

// Pace returns the average pace in minutes per kilometre, deriving it from
// duration and distance when the source did not report one. Zero means unknown.
func (e ActivityEvent) Pace() float64 {
	if e.PaceMinPerKm > 0 {
		return e.PaceMinPerKm
	}
	if e.DistanceM <= 0 || e.DurationSec <= 0 {
		return 0
	}
	return (e.DurationSec / 60) / (e.DistanceM / 1000)
}

// Metric identifies a chart series.
type Metric string

const (
	MetricDistance Metric = "distance"
	MetricDuration Metric = "duration"
	MetricWorkouts Metric = "workouts"
	MetricCalories Metric = "calories"
)

// TrackedMetrics lists every series regenerated on a full refresh.
var TrackedMetrics = []Metric{MetricDistance, MetricDuration, MetricWorkouts, MetricCalories}

// ParseMetric validates a metric name.
func ParseMetric(value string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range TrackedMetrics {
		if m == known {
			return m, nil
		}
	}
	return "", ErrUnknownMetric
}

// Value extracts the metric's contribution from a single event.
func (m Metric) Value(e ActivityEvent) (float64, bool) {
	switch m {
	case MetricDistance:
		return e.DistanceM, true
	case MetricDuration:
		return e.DurationSec, true
	case MetricWorkouts:
		return 1, true
	case MetricCalories:
		if e.Calories == nil {
			return 0, false
		}
		return *e.Calories, true
	default:
		return 0, false
	}
}

// ChartPoint is one bucketed value of a metric as reported by one source.
type ChartPoint struct {
	Bucket time.Time `json:"bucket"`
	Metric Metric    `json:"metric"`
	Value  float64   `json:"value"`
	Source SourceID  `json:"source"`
}
