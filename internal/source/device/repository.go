// Package device reads the locally stored device activity history from Postgres.
package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/aggregator/internal/domain"
)

// Option configures the Repository.
type Option func(*Repository)

// WithLocation sets the calendar used to truncate chart buckets.
func WithLocation(loc *time.Location) Option {
	return func(r *Repository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Repository provides the device source over the activities table. Row level
// security scopes every query to the user set in app.user_id.
type Repository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchEvents returns the user's activities started within rng, oldest first.
func (r *Repository) FetchEvents(ctx context.Context, userID string, rng domain.TimeRange) ([]domain.ActivityEvent, error) {
	const query = `SELECT activity_id, activity_type, started_at, duration_sec, distance_m, pace_min_per_km, calories, location
        FROM activities WHERE user_id=$1 AND started_at >= $2 AND started_at < $3
        ORDER BY started_at, activity_id`

	events := make([]domain.ActivityEvent, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, rng.Start, rng.End)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev       domain.ActivityEvent
				kind     string
				pace     sql.NullFloat64
				calories sql.NullFloat64
				location sql.NullString
			)
			if err := rows.Scan(&ev.ID, &kind, &ev.StartedAt, &ev.DurationSec, &ev.DistanceM, &pace, &calories, &location); err != nil {
				return err
			}
			ev.Source = domain.SourceDevice
			ev.Type = domain.ParseActivityType(kind)
			ev.StartedAt = ev.StartedAt.UTC()
			if pace.Valid {
				ev.PaceMinPerKm = pace.Float64
			}
			if calories.Valid {
				c := calories.Float64
				ev.Calories = &c
			}
			ev.Location = location.String
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("device events: %w", err)
	}
	return events, nil
}

// FetchChartPoints sums the metric per day or month bucket in the configured
// calendar. Buckets without activity are not returned.
func (r *Repository) FetchChartPoints(ctx context.Context, userID string, metric domain.Metric, g domain.Granularity, rng domain.TimeRange) ([]domain.ChartPoint, error) {
	expr, filter, err := metricColumn(metric)
	if err != nil {
		return nil, err
	}
	unit := "day"
	if g == domain.GranularityMonth {
		unit = "month"
	}

	query := fmt.Sprintf(`SELECT date_trunc('%s', started_at AT TIME ZONE $4) AS bucket, %s
        FROM activities WHERE user_id=$1 AND started_at >= $2 AND started_at < $3%s
        GROUP BY bucket ORDER BY bucket`, unit, expr, filter)

	points := make([]domain.ChartPoint, 0)
	err = r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, rng.Start, rng.End, r.loc.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				wall  time.Time
				value float64
			)
			if err := rows.Scan(&wall, &value); err != nil {
				return err
			}
			bucket := time.Date(wall.Year(), wall.Month(), wall.Day(), 0, 0, 0, 0, r.loc)
			points = append(points, domain.ChartPoint{Bucket: bucket, Metric: metric, Value: value, Source: domain.SourceDevice})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("device chart %s: %w", metric, err)
	}
	return points, nil
}

func (r *Repository) withUser(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func metricColumn(metric domain.Metric) (expr, filter string, err error) {
	switch metric {
	case domain.MetricDistance:
		return "sum(distance_m)::float8", "", nil
	case domain.MetricDuration:
		return "sum(duration_sec)::float8", "", nil
	case domain.MetricWorkouts:
		return "count(*)::float8", "", nil
	case domain.MetricCalories:
		return "sum(calories)::float8", " AND calories IS NOT NULL", nil
	default:
		return "", "", domain.ErrUnknownMetric
	}
}
