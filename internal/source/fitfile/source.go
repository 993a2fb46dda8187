// Package fitfile serves the device source from exported .fit activity files.
package fitfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/geo/s2"
	"github.com/google/uuid"
	"github.com/tormoder/fit"

	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/merge"
	"example.com/aggregator/internal/source/snapshot"
)

const earthRadiusM = 6371008.8

const invalidCalories = 0xFFFF

var eventNamespace = uuid.MustParse("1e5a3c7e-83a2-4a61-9c0d-4b0a7d5f2c11")

// Option configures the Source.
type Option func(*Source)

// WithLogger overrides the logger used to report unreadable files.
func WithLogger(logger *log.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithLocation sets the calendar used for chart buckets.
func WithLocation(loc *time.Location) Option {
	return func(s *Source) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithSnapshotTTL sets how long decoded sessions may back chart points.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(s *Source) {
		s.snapshots = snapshot.New(ttl, nil)
	}
}

// Source reads {dir}/{userID}/*.fit. Each file contributes one event per
// session. A user without a directory has no device history.
type Source struct {
	dir       string
	loc       *time.Location
	logger    *log.Logger
	snapshots *snapshot.Store
}

// New constructs a Source rooted at dir.
func New(dir string, opts ...Option) *Source {
	s := &Source{
		dir:       dir,
		loc:       time.UTC,
		logger:    log.New(log.Writer(), "[fitfile] ", log.LstdFlags|log.Lshortfile),
		snapshots: snapshot.New(snapshot.DefaultTTL, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchEvents decodes every export of the user and returns the sessions
// started within rng, oldest first. Files that fail to decode are skipped.
func (s *Source) FetchEvents(ctx context.Context, userID string, rng domain.TimeRange) ([]domain.ActivityEvent, error) {
	userDir := filepath.Join(s.dir, filepath.Base(userID))
	entries, err := os.ReadDir(userDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.snapshots.Put(userID, rng, []domain.ActivityEvent{})
			return []domain.ActivityEvent{}, nil
		}
		return nil, fmt.Errorf("read fit dir: %w", err)
	}

	events := make([]domain.ActivityEvent, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".fit") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(userDir, entry.Name())
		decoded, err := decodeFile(path)
		if err != nil {
			s.logger.Printf("skip %s: %v", path, err)
			continue
		}
		for _, ev := range decoded {
			if rng.Contains(ev.StartedAt) {
				events = append(events, ev)
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].StartedAt.Before(events[j].StartedAt) })
	s.snapshots.Put(userID, rng, events)
	return events, nil
}

// FetchChartPoints buckets the user's events for one metric, reusing the
// sessions of a recent FetchEvents that covered rng.
func (s *Source) FetchChartPoints(ctx context.Context, userID string, metric domain.Metric, g domain.Granularity, rng domain.TimeRange) ([]domain.ChartPoint, error) {
	events, ok := s.snapshots.Get(userID, rng)
	if !ok {
		var err error
		if events, err = s.FetchEvents(ctx, userID, rng); err != nil {
			return nil, err
		}
	}
	return merge.Bucketize(events, metric, domain.SourceDevice, g, s.loc, rng), nil
}

func decodeFile(path string) ([]domain.ActivityEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	file, err := fit.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	activity, err := file.Activity()
	if err != nil {
		return nil, fmt.Errorf("not an activity file: %w", err)
	}
	return eventsFromActivity(filepath.Base(path), activity), nil
}

func eventsFromActivity(name string, activity *fit.ActivityFile) []domain.ActivityEvent {
	events := make([]domain.ActivityEvent, 0, len(activity.Sessions))
	for i, session := range activity.Sessions {
		if session == nil || session.StartTime.IsZero() {
			continue
		}
		ev := domain.ActivityEvent{
			ID:        uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s#%d", name, i))).String(),
			Source:    domain.SourceDevice,
			Type:      activityType(session.Sport),
			StartedAt: session.StartTime.UTC(),
		}
		if d := session.GetTotalTimerTimeScaled(); !math.IsNaN(d) {
			ev.DurationSec = d
		}
		if d := session.GetTotalDistanceScaled(); !math.IsNaN(d) && d > 0 {
			ev.DistanceM = d
		} else {
			end := ev.StartedAt.Add(time.Duration(ev.DurationSec * float64(time.Second)))
			ev.DistanceM = trackDistance(activity.Records, ev.StartedAt, end)
		}
		if session.TotalCalories != invalidCalories {
			c := float64(session.TotalCalories)
			ev.Calories = &c
		}
		if !session.StartPositionLat.Invalid() && !session.StartPositionLong.Invalid() {
			ev.Location = fmt.Sprintf("%.5f,%.5f", session.StartPositionLat.Degrees(), session.StartPositionLong.Degrees())
		}
		events = append(events, ev)
	}
	return events
}

// trackDistance sums the great-circle distance between consecutive GPS
// samples recorded in [start, end]. A zero end means no upper bound.
func trackDistance(records []*fit.RecordMsg, start, end time.Time) float64 {
	var (
		total float64
		prev  s2.LatLng
		have  bool
	)
	for _, rec := range records {
		if rec == nil || rec.PositionLat.Invalid() || rec.PositionLong.Invalid() {
			continue
		}
		if rec.Timestamp.Before(start) || (end.After(start) && rec.Timestamp.After(end)) {
			continue
		}
		point := s2.LatLngFromDegrees(rec.PositionLat.Degrees(), rec.PositionLong.Degrees())
		if have {
			total += prev.Distance(point).Radians() * earthRadiusM
		}
		prev, have = point, true
	}
	return total
}

func activityType(sport fit.Sport) domain.ActivityType {
	switch sport {
	case fit.SportRunning:
		return domain.ActivityRun
	case fit.SportWalking:
		return domain.ActivityWalk
	case fit.SportCycling:
		return domain.ActivityCycle
	case fit.SportHiking:
		return domain.ActivityHike
	case fit.SportSwimming:
		return domain.ActivitySwim
	default:
		return domain.ActivityOther
	}
}
