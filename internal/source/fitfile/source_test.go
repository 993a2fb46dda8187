package fitfile

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"

	"example.com/aggregator/internal/domain"
)

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

var start = time.Date(2024, time.May, 1, 7, 0, 0, 0, time.UTC)

func session(sport fit.Sport) *fit.SessionMsg {
	s := fit.NewSessionMsg()
	s.StartTime = start
	s.Sport = sport
	s.TotalTimerTime = 1_500_000
	return s
}

func record(at time.Time, lat, lng float64) *fit.RecordMsg {
	r := fit.NewRecordMsg()
	r.Timestamp = at
	r.PositionLat = fit.NewLatitudeDegrees(lat)
	r.PositionLong = fit.NewLongitudeDegrees(lng)
	return r
}

func TestEventsFromActivityUsesSessionTotals(t *testing.T) {
	s := session(fit.SportRunning)
	s.TotalDistance = 500_000
	s.TotalCalories = 320
	s.StartPositionLat = fit.NewLatitudeDegrees(59.91273)
	s.StartPositionLong = fit.NewLongitudeDegrees(10.74609)

	events := eventsFromActivity("morning.fit", &fit.ActivityFile{Sessions: []*fit.SessionMsg{s}})

	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, domain.ActivityRun, ev.Type)
	require.Equal(t, domain.SourceDevice, ev.Source)
	require.Equal(t, start, ev.StartedAt)
	require.InDelta(t, 1500, ev.DurationSec, 1e-9)
	require.InDelta(t, 5000, ev.DistanceM, 1e-9)
	require.NotNil(t, ev.Calories)
	require.Equal(t, float64(320), *ev.Calories)
	require.Equal(t, "59.91273,10.74609", ev.Location)
	require.InDelta(t, 5.0, ev.Pace(), 1e-9)

	again := eventsFromActivity("morning.fit", &fit.ActivityFile{Sessions: []*fit.SessionMsg{s}})
	require.Equal(t, ev.ID, again[0].ID)
}

func TestEventsFromActivityFallsBackToTrackDistance(t *testing.T) {
	s := session(fit.SportWalking)
	activity := &fit.ActivityFile{
		Sessions: []*fit.SessionMsg{s},
		Records: []*fit.RecordMsg{
			record(start, 60.00, 10.0),
			record(start.Add(10*time.Minute), 60.01, 10.0),
			record(start.Add(20*time.Minute), 60.02, 10.0),
			record(start.Add(time.Hour), 61.00, 10.0),
		},
	}

	events := eventsFromActivity("walk.fit", activity)

	require.Len(t, events, 1)
	require.Equal(t, domain.ActivityWalk, events[0].Type)
	require.Nil(t, events[0].Calories)
	require.Empty(t, events[0].Location)
	// Two 0.01 degree steps of latitude; the sample after the session ends is ignored.
	require.InDelta(t, 2223.9, events[0].DistanceM, 1.0)
}

func TestActivityType(t *testing.T) {
	require.Equal(t, domain.ActivityRun, activityType(fit.SportRunning))
	require.Equal(t, domain.ActivityCycle, activityType(fit.SportCycling))
	require.Equal(t, domain.ActivityHike, activityType(fit.SportHiking))
	require.Equal(t, domain.ActivitySwim, activityType(fit.SportSwimming))
	require.Equal(t, domain.ActivityOther, activityType(fit.SportRowing))
}

func TestFetchEventsWithoutExportsIsEmpty(t *testing.T) {
	src := New(t.TempDir(), WithLogger(log.New(testWriter{t}, "", 0)))

	events, err := src.FetchEvents(context.Background(), "user-1", domain.TimeRange{Start: start.AddDate(0, 0, -7), End: start.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestFetchEventsSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "user-1")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "broken.FIT"), []byte("not a fit file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "notes.txt"), []byte("ignored"), 0o644))

	src := New(dir, WithLogger(log.New(testWriter{t}, "", 0)))
	rng := domain.TimeRange{Start: start.AddDate(0, 0, -7), End: start.AddDate(0, 0, 1)}

	events, err := src.FetchEvents(context.Background(), "user-1", rng)
	require.NoError(t, err)
	require.Empty(t, events)

	points, err := src.FetchChartPoints(context.Background(), "user-1", domain.MetricDistance, domain.GranularityDay, rng)
	require.NoError(t, err)
	require.Empty(t, points)
}
