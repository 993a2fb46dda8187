package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/insights"
	"example.com/aggregator/internal/merge"
	"example.com/aggregator/internal/records"
)

// contribution is what one source (or one feed identity) added to a run.
type contribution struct {
	events []domain.ActivityEvent
	points map[domain.Metric][]domain.ChartPoint
	err    *domain.SourceError
}

func (e *Engine) aggregate(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error) {
	start := time.Now()
	defer func() { aggregationDuration.WithLabelValues(string(window)).Observe(time.Since(start).Seconds()) }()

	set, err := e.identities.Identities(ctx, userID)
	if err != nil {
		return domain.AggregatedStats{}, &domain.PipelineError{Op: "resolve identities", Err: err}
	}
	enabled := set.Enabled()
	if len(enabled) == 0 {
		return domain.AggregatedStats{}, domain.ErrNoIdentity
	}

	now := e.now()
	statsRange := window.Range(now, e.loc)
	lookback := domain.RecordsLookback(now, e.loc)
	fetchRange := domain.TimeRange{Start: lookback.Start, End: statsRange.End}
	if lookback.End.After(fetchRange.End) {
		fetchRange.End = lookback.End
	}
	granularity := window.Granularity()

	device := contribution{}
	feeds := make([]contribution, len(enabled))

	// Source failures are isolated and never fail the group; only the
	// surrounding context being torn down does, which stops every fetch.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		device = e.fetchDevice(gctx, userID, granularity, statsRange, fetchRange)
		return ctx.Err()
	})
	for i, identity := range enabled {
		i, identity := i, identity
		g.Go(func() error {
			feeds[i] = e.fetchFeed(gctx, identity, granularity, statsRange, fetchRange)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AggregatedStats{}, &domain.PipelineError{Op: "fetch", Err: err}
	}
	// Partial results from an abandoned run are never published.
	if err := ctx.Err(); err != nil {
		return domain.AggregatedStats{}, &domain.PipelineError{Op: "fetch", Err: err}
	}

	var (
		sourceErrors []domain.SourceError
		feedEvents   []domain.ActivityEvent
		feedPoints   = make(map[domain.Metric][][]domain.ChartPoint)
	)
	if device.err != nil {
		sourceErrors = append(sourceErrors, *device.err)
	}
	for _, c := range feeds {
		if c.err != nil {
			sourceErrors = append(sourceErrors, *c.err)
			continue
		}
		feedEvents = append(feedEvents, c.events...)
		for metric, points := range c.points {
			feedPoints[metric] = append(feedPoints[metric], points)
		}
	}

	series := make(map[domain.Metric][]domain.ChartPoint, len(domain.TrackedMetrics))
	for _, metric := range domain.TrackedMetrics {
		feedCombined := merge.Combine(granularity, e.loc, feedPoints[metric]...)
		series[metric] = merge.MergeDaily(granularity, e.loc, device.points[metric], feedCombined)
	}

	merged := merge.MergeEvents(device.events, feedEvents)

	deviceRecords := records.Compute(inRange(device.events, lookback), now)
	feedRecords := records.Compute(inRange(feedEvents, lookback), now)
	recordSet := records.Annotate(merge.MergeRecords(deviceRecords, feedRecords), e.previousRecords(userID))

	stats := summarize(merged, statsRange, now, e.loc)
	stats.UserID = userID
	stats.Window = window
	stats.Range = statsRange
	stats.MonthlyGoalM = e.monthlyGoalM
	stats.Series = series
	stats.Records = recordSet
	stats.SourceErrors = sourceErrors
	stats.ComputedAt = now
	stats.Insights = insights.Generate(stats, now)
	return stats, nil
}

func (e *Engine) fetchDevice(ctx context.Context, userID string, g domain.Granularity, statsRange, fetchRange domain.TimeRange) contribution {
	ctx, cancel := e.boundSource(ctx)
	defer cancel()

	events, err := e.device.FetchEvents(ctx, userID, fetchRange)
	if err != nil {
		return e.sourceFailed(domain.SourceDevice, "", err)
	}
	points := make(map[domain.Metric][]domain.ChartPoint, len(domain.TrackedMetrics))
	for _, metric := range domain.TrackedMetrics {
		p, err := e.device.FetchChartPoints(ctx, userID, metric, g, statsRange)
		if err != nil {
			return e.sourceFailed(domain.SourceDevice, "", err)
		}
		points[metric] = p
	}
	return contribution{events: events, points: points}
}

func (e *Engine) fetchFeed(ctx context.Context, identity domain.Identity, g domain.Granularity, statsRange, fetchRange domain.TimeRange) contribution {
	ctx, cancel := e.boundSource(ctx)
	defer cancel()

	events, err := e.feed.FetchEvents(ctx, identity, fetchRange)
	if err != nil {
		return e.sourceFailed(domain.SourceFeed, identity.ID, err)
	}
	points := make(map[domain.Metric][]domain.ChartPoint, len(domain.TrackedMetrics))
	for _, metric := range domain.TrackedMetrics {
		p, err := e.feed.FetchChartPoints(ctx, identity, metric, g, statsRange)
		if err != nil {
			return e.sourceFailed(domain.SourceFeed, identity.ID, err)
		}
		points[metric] = p
	}
	return contribution{events: events, points: points}
}

func (e *Engine) boundSource(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.sourceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.sourceTimeout)
}

func (e *Engine) sourceFailed(source domain.SourceID, identity string, err error) contribution {
	e.logger.Printf("source fetch failed (source=%s, identity=%s): %v", source, identity, err)
	recordSourceError(source)
	return contribution{err: &domain.SourceError{Source: source, Identity: identity, Message: err.Error()}}
}

func inRange(events []domain.ActivityEvent, r domain.TimeRange) []domain.ActivityEvent {
	out := make([]domain.ActivityEvent, 0, len(events))
	for _, ev := range events {
		if r.Contains(ev.StartedAt) {
			out = append(out, ev)
		}
	}
	return out
}

// summarize derives the totals of an aggregate from the merged event set.
func summarize(events []domain.ActivityEvent, statsRange domain.TimeRange, now time.Time, loc *time.Location) domain.AggregatedStats {
	var stats domain.AggregatedStats

	activeDays := make(map[time.Time]struct{})
	for _, ev := range inRange(events, statsRange) {
		stats.TotalDistanceM += ev.DistanceM
		stats.TotalDurationSec += ev.DurationSec
		if ev.Calories != nil {
			stats.TotalCalories += *ev.Calories
		}
		stats.WorkoutCount++
		activeDays[domain.GranularityDay.BucketStart(ev.StartedAt, loc)] = struct{}{}
	}

	days := int(statsRange.End.Sub(statsRange.Start).Hours()/24 + 0.5)
	if days > 0 {
		stats.ConsistencyScore = float64(len(activeDays)) / float64(days) * 100
	}

	thisWeek := domain.WindowWeek.Range(now, loc)
	lastWeek := domain.TimeRange{Start: thisWeek.Start.AddDate(0, 0, -7), End: thisWeek.Start}
	var previousDistance float64
	for _, ev := range events {
		switch {
		case thisWeek.Contains(ev.StartedAt):
			stats.WeeklyDistanceM += ev.DistanceM
			stats.RecentWorkoutCount++
		case lastWeek.Contains(ev.StartedAt):
			previousDistance += ev.DistanceM
		}
	}
	if previousDistance > 0 {
		stats.ImprovementPct = (stats.WeeklyDistanceM - previousDistance) / previousDistance * 100
	}
	return stats
}
