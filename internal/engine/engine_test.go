package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/aggregator/internal/cache"
	"example.com/aggregator/internal/domain"
)

var now = time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)

func may(d int) time.Time {
	return time.Date(2024, time.May, d, 0, 0, 0, 0, time.UTC)
}

type stubDevice struct {
	events  []domain.ActivityEvent
	points  map[domain.Metric][]domain.ChartPoint
	err     error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *stubDevice) FetchEvents(ctx context.Context, userID string, r domain.TimeRange) ([]domain.ActivityEvent, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.events, s.err
}

func (s *stubDevice) FetchChartPoints(ctx context.Context, userID string, metric domain.Metric, g domain.Granularity, r domain.TimeRange) ([]domain.ChartPoint, error) {
	return s.points[metric], s.err
}

type stubFeed struct {
	events map[string][]domain.ActivityEvent
	points map[string][]domain.ChartPoint
	errs   map[string]error
	delay  map[string]time.Duration
	mu     sync.Mutex
	seen   []string
}

func (s *stubFeed) FetchEvents(ctx context.Context, identity domain.Identity, r domain.TimeRange) ([]domain.ActivityEvent, error) {
	s.mu.Lock()
	s.seen = append(s.seen, identity.ID)
	s.mu.Unlock()
	if d := s.delay[identity.ID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.errs[identity.ID]; err != nil {
		return nil, err
	}
	return s.events[identity.ID], nil
}

func (s *stubFeed) FetchChartPoints(ctx context.Context, identity domain.Identity, metric domain.Metric, g domain.Granularity, r domain.TimeRange) ([]domain.ChartPoint, error) {
	out := make([]domain.ChartPoint, 0)
	for _, p := range s.points[identity.ID] {
		if p.Metric == metric {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubIdentities struct {
	set domain.IdentitySet
	err error
}

func (s stubIdentities) Identities(context.Context, string) (domain.IdentitySet, error) {
	return s.set, s.err
}

type recordingSubscriber struct {
	mu   sync.Mutex
	seen []domain.AggregatedStats
}

func (r *recordingSubscriber) Publish(_ context.Context, stats domain.AggregatedStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, stats)
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

var defaultIdentities = stubIdentities{set: domain.IdentitySet{
	{ID: "npub-primary", Primary: true, Enabled: true},
	{ID: "npub-linked", Enabled: true},
	{ID: "npub-disabled", Enabled: false},
}}

func newEngine(t *testing.T, device *stubDevice, feed *stubFeed, ids domain.IdentityProvider, opts ...Option) *Engine {
	clock := func() time.Time { return now }
	ctrl := cache.NewController(cache.NewMemoryStore(), cache.WithClock(clock), cache.WithLogger(log.New(testWriter{t}, "", 0)))
	base := []Option{WithClock(clock), WithLogger(log.New(testWriter{t}, "", 0)), WithMonthlyGoal(50_000)}
	return New(device, feed, ids, ctrl, append(base, opts...)...)
}

func scenarioSources() (*stubDevice, *stubFeed) {
	device := &stubDevice{
		events: []domain.ActivityEvent{
			{ID: "d1", Source: domain.SourceDevice, Type: domain.ActivityRun, StartedAt: may(1).Add(7 * time.Hour), DurationSec: 1500, DistanceM: 5000},
		},
		points: map[domain.Metric][]domain.ChartPoint{
			domain.MetricDistance: {{Bucket: may(1), Metric: domain.MetricDistance, Value: 5000, Source: domain.SourceDevice}},
		},
	}
	feed := &stubFeed{
		events: map[string][]domain.ActivityEvent{
			"npub-primary": {
				{ID: "f1", Source: domain.SourceFeed, Type: domain.ActivityRun, StartedAt: may(1).Add(7*time.Hour + 30*time.Second), DurationSec: 1400, DistanceM: 4000},
				{ID: "f2", Source: domain.SourceFeed, Type: domain.ActivityRun, StartedAt: may(2).Add(6 * time.Hour), DurationSec: 1080, DistanceM: 3000},
			},
		},
		points: map[string][]domain.ChartPoint{
			"npub-primary": {
				{Bucket: may(1), Metric: domain.MetricDistance, Value: 4000, Source: domain.SourceFeed},
				{Bucket: may(2), Metric: domain.MetricDistance, Value: 3000, Source: domain.SourceFeed},
			},
		},
	}
	return device, feed
}

func TestFetchAllStatsMergesSources(t *testing.T) {
	device, feed := scenarioSources()
	eng := newEngine(t, device, feed, defaultIdentities)

	stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	require.Equal(t, []domain.ChartPoint{
		{Bucket: may(1), Metric: domain.MetricDistance, Value: 5000, Source: domain.SourceDevice},
		{Bucket: may(2), Metric: domain.MetricDistance, Value: 3000, Source: domain.SourceFeed},
	}, stats.Series[domain.MetricDistance])

	// f1 duplicates d1 and is dropped.
	require.Equal(t, 2, stats.WorkoutCount)
	require.Equal(t, float64(8000), stats.TotalDistanceM)
	require.Equal(t, float64(8000), stats.WeeklyDistanceM)
	require.InDelta(t, 2.0/7.0*100, stats.ConsistencyScore, 1e-9)

	rec, ok := stats.Records.Find(domain.ActivityRun, domain.RecordLongestDistance)
	require.True(t, ok)
	require.Equal(t, float64(5000), rec.Value)
	require.Equal(t, domain.SourceDevice, rec.Source)

	pace, ok := stats.Records.Find(domain.ActivityRun, domain.RecordFastestPace)
	require.True(t, ok)
	require.Equal(t, domain.SourceDevice, pace.Source)
	require.Len(t, stats.Records[domain.ActivityRun], 3, "feed records never beat the device records")

	require.ElementsMatch(t, []string{"npub-primary", "npub-linked"}, feed.seen)
	require.Empty(t, stats.SourceErrors)
	require.Equal(t, "", eng.LastError())
}

func TestFetchAllStatsIsCachedWithinTTL(t *testing.T) {
	device, feed := scenarioSources()
	eng := newEngine(t, device, feed, defaultIdentities)

	first, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	second, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), device.calls.Load())
}

func TestFetchAllStatsSingleFlight(t *testing.T) {
	device, feed := scenarioSources()
	device.entered = make(chan struct{}, 2)
	device.release = make(chan struct{})
	eng := newEngine(t, device, feed, defaultIdentities)

	var wg sync.WaitGroup
	results := make([]domain.AggregatedStats, 2)
	errs := make([]error, 2)
	call := func(i int) {
		defer wg.Done()
		results[i], errs[i] = eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	}

	wg.Add(1)
	go call(0)
	<-device.entered

	wg.Add(1)
	go call(1)
	time.Sleep(50 * time.Millisecond)
	close(device.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), device.calls.Load())
	require.Equal(t, results[0], results[1])
}

func TestJoinedCallerOutlivesCancelledStarter(t *testing.T) {
	device, feed := scenarioSources()
	device.entered = make(chan struct{}, 2)
	device.release = make(chan struct{})
	sub := &recordingSubscriber{}
	eng := newEngine(t, device, feed, defaultIdentities, WithSubscriber(sub))

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := eng.FetchAllStats(starterCtx, "user-1", domain.WindowWeek)
		starterErr <- err
	}()
	<-device.entered

	type result struct {
		stats domain.AggregatedStats
		err   error
	}
	joined := make(chan result, 1)
	go func() {
		stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
		joined <- result{stats, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelStarter()
	require.ErrorIs(t, <-starterErr, context.Canceled)

	close(device.release)
	got := <-joined
	require.NoError(t, got.err)
	require.Equal(t, 2, got.stats.WorkoutCount)
	require.Equal(t, int32(1), device.calls.Load())
	require.Len(t, sub.seen, 1)
}

func TestRefreshSharesInFlightFetch(t *testing.T) {
	device, feed := scenarioSources()
	device.entered = make(chan struct{}, 2)
	device.release = make(chan struct{})
	sub := &recordingSubscriber{}
	eng := newEngine(t, device, feed, defaultIdentities, WithSubscriber(sub))

	var wg sync.WaitGroup
	var fetched, refreshed domain.AggregatedStats
	var fetchErr, refreshErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		fetched, fetchErr = eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	}()
	<-device.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshed, refreshErr = eng.RefreshAll(context.Background(), "user-1", domain.WindowWeek)
	}()
	time.Sleep(50 * time.Millisecond)
	close(device.release)
	wg.Wait()

	require.NoError(t, fetchErr)
	require.NoError(t, refreshErr)
	require.Equal(t, int32(1), device.calls.Load())
	require.Equal(t, fetched, refreshed)
	require.Len(t, sub.seen, 1)

	cached, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.Equal(t, refreshed, cached)
}

func TestFeedFailureIsIsolatedPerIdentity(t *testing.T) {
	device, feed := scenarioSources()
	feed.errs = map[string]error{"npub-linked": errors.New("relay unreachable")}
	feed.events["npub-linked"] = []domain.ActivityEvent{{ID: "never", Type: domain.ActivityWalk, StartedAt: may(2)}}
	eng := newEngine(t, device, feed, defaultIdentities)

	stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	require.Equal(t, []domain.SourceError{{Source: domain.SourceFeed, Identity: "npub-linked", Message: "relay unreachable"}}, stats.SourceErrors)
	require.Equal(t, 2, stats.WorkoutCount)
	require.Len(t, stats.Series[domain.MetricDistance], 2)
}

func TestDeviceFailureDegradesToFeedOnly(t *testing.T) {
	device, feed := scenarioSources()
	device.err = errors.New("permission denied")
	eng := newEngine(t, device, feed, defaultIdentities)

	stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	require.Len(t, stats.SourceErrors, 1)
	require.Equal(t, domain.SourceDevice, stats.SourceErrors[0].Source)
	require.Equal(t, []domain.ChartPoint{
		{Bucket: may(1), Metric: domain.MetricDistance, Value: 4000, Source: domain.SourceFeed},
		{Bucket: may(2), Metric: domain.MetricDistance, Value: 3000, Source: domain.SourceFeed},
	}, stats.Series[domain.MetricDistance])
}

func TestSlowSourceIsBoundedByTimeout(t *testing.T) {
	device, feed := scenarioSources()
	feed.delay = map[string]time.Duration{"npub-linked": time.Minute}
	eng := newEngine(t, device, feed, defaultIdentities, WithSourceTimeout(20*time.Millisecond))

	stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.Len(t, stats.SourceErrors, 1)
	require.Equal(t, "npub-linked", stats.SourceErrors[0].Identity)
}

func TestPreconditionErrors(t *testing.T) {
	device, feed := scenarioSources()

	eng := newEngine(t, device, feed, defaultIdentities)
	_, err := eng.FetchAllStats(context.Background(), "  ", domain.WindowWeek)
	require.ErrorIs(t, err, domain.ErrNoIdentity)

	_, err = eng.FetchAllStats(context.Background(), "user-1", domain.Window("decade"))
	require.ErrorIs(t, err, domain.ErrUnknownWindow)

	eng = newEngine(t, device, feed, stubIdentities{})
	_, err = eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.ErrorIs(t, err, domain.ErrNoIdentity)
	require.Equal(t, int32(0), device.calls.Load())
	require.Equal(t, "", eng.LastError())

	eng = newEngine(t, device, feed, stubIdentities{set: domain.IdentitySet{{ID: "npub-off", Primary: true, Enabled: false}}})
	_, err = eng.RefreshAll(context.Background(), "user-1", domain.WindowWeek)
	require.ErrorIs(t, err, domain.ErrNoIdentity)
	_, err = eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.ErrorIs(t, err, domain.ErrNoIdentity)
	require.Equal(t, int32(0), device.calls.Load())
	require.Empty(t, feed.seen)
	require.Equal(t, "", eng.LastError())
}

func TestIdentityProviderFailureIsPipelineError(t *testing.T) {
	device, feed := scenarioSources()
	eng := newEngine(t, device, feed, stubIdentities{err: errors.New("db down")})

	_, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	require.Equal(t, "resolve identities", pipelineErr.Op)
	require.Contains(t, eng.LastError(), "db down")
}

func TestCancelledRunIsNotPublished(t *testing.T) {
	device, feed := scenarioSources()
	device.entered = make(chan struct{}, 1)
	device.release = make(chan struct{})
	sub := &recordingSubscriber{}
	eng := newEngine(t, device, feed, defaultIdentities, WithSubscriber(sub))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-device.entered
		cancel()
	}()

	_, err := eng.FetchAllStats(ctx, "user-1", domain.WindowWeek)
	require.ErrorIs(t, err, context.Canceled)

	_, ok := eng.Snapshot("user-1", domain.WindowWeek)
	require.False(t, ok)
	require.Empty(t, sub.seen)
	require.NotEmpty(t, eng.LastError())
}

func TestRefreshAllRecomputesAndNotifies(t *testing.T) {
	device, feed := scenarioSources()
	sub := &recordingSubscriber{}
	eng := newEngine(t, device, feed, defaultIdentities)
	eng.Subscribe(sub)

	_, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	device.events = append(device.events, domain.ActivityEvent{
		ID: "d2", Source: domain.SourceDevice, Type: domain.ActivityRun, StartedAt: may(2).Add(5 * time.Hour), DurationSec: 4000, DistanceM: 12000,
	})

	refreshed, err := eng.RefreshAll(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.Equal(t, int32(2), device.calls.Load())
	require.Equal(t, 3, refreshed.WorkoutCount)

	rec, ok := refreshed.Records.Find(domain.ActivityRun, domain.RecordLongestDistance)
	require.True(t, ok)
	require.Equal(t, float64(12000), rec.Value)
	require.NotNil(t, rec.Previous)
	require.Equal(t, float64(5000), rec.Previous.Value)

	cached, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.Equal(t, refreshed, cached)
	require.Len(t, sub.seen, 2)
}

func TestGenerateChartDataAndRecords(t *testing.T) {
	device, feed := scenarioSources()
	eng := newEngine(t, device, feed, defaultIdentities)

	_, err := eng.GenerateChartData(context.Background(), "user-1", domain.Metric("steps"), domain.WindowWeek)
	require.ErrorIs(t, err, domain.ErrUnknownMetric)

	points, err := eng.GenerateChartData(context.Background(), "user-1", domain.MetricDistance, domain.WindowWeek)
	require.NoError(t, err)
	require.Len(t, points, 2)

	recs, err := eng.FetchPersonalRecords(context.Background(), "user-1")
	require.NoError(t, err)
	require.Contains(t, recs, domain.ActivityRun)
	require.Equal(t, int32(1), device.calls.Load())
}

func TestInsightsFollowAggregate(t *testing.T) {
	device := &stubDevice{}
	for d := 26; d <= 30; d++ {
		device.events = append(device.events, domain.ActivityEvent{
			ID: fmt.Sprintf("apr-%d", d), Source: domain.SourceDevice, Type: domain.ActivityRun,
			StartedAt: time.Date(2024, time.April, d, 7, 0, 0, 0, time.UTC), DistanceM: 3000, DurationSec: 1000,
		})
	}
	for d := 1; d <= 2; d++ {
		device.events = append(device.events, domain.ActivityEvent{
			ID: fmt.Sprintf("may-%d", d), Source: domain.SourceDevice, Type: domain.ActivityWalk,
			StartedAt: may(d).Add(7 * time.Hour), DistanceM: 2000, DurationSec: 1000,
		})
	}
	eng := newEngine(t, device, &stubFeed{}, defaultIdentities)

	stats, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)

	require.Equal(t, 7, stats.RecentWorkoutCount)
	require.Equal(t, float64(19000), stats.WeeklyDistanceM)
	require.InDelta(t, 100.0, stats.ConsistencyScore, 1e-9)

	titles := make([]string, 0, len(stats.Insights))
	for _, i := range stats.Insights {
		titles = append(titles, i.Title)
	}
	require.Equal(t, []string{"Goal Achievement", "Consistency", "Recovery"}, titles)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	device, feed := scenarioSources()
	eng := newEngine(t, device, feed, defaultIdentities)

	_, err := eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.NoError(t, eng.Invalidate(context.Background(), "user-1"))

	_, ok := eng.Snapshot("user-1", domain.WindowWeek)
	require.False(t, ok)

	_, err = eng.FetchAllStats(context.Background(), "user-1", domain.WindowWeek)
	require.NoError(t, err)
	require.Equal(t, int32(2), device.calls.Load())

	require.ErrorIs(t, eng.Invalidate(context.Background(), ""), domain.ErrNoIdentity)
}
