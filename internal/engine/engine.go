// Package engine orchestrates fetching, merging and caching of activity statistics.
package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"example.com/aggregator/internal/cache"
	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/observability"
)

// DefaultSourceTimeout bounds each individual source fetch.
const DefaultSourceTimeout = 20 * time.Second

// Subscriber is notified with every fully merged aggregate the engine publishes.
type Subscriber interface {
	Publish(ctx context.Context, stats domain.AggregatedStats) error
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger used to report source and subscriber errors.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocation sets the calendar used for day and month buckets.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithSourceTimeout overrides DefaultSourceTimeout. Zero disables the bound.
func WithSourceTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.sourceTimeout = timeout
	}
}

// WithMonthlyGoal sets the monthly distance goal in metres used by insights.
func WithMonthlyGoal(meters float64) Option {
	return func(e *Engine) {
		e.monthlyGoalM = meters
	}
}

// WithSubscriber registers a subscriber at construction time.
func WithSubscriber(s Subscriber) Option {
	return func(e *Engine) {
		e.subscribers = append(e.subscribers, s)
	}
}

// Engine merges the device source and every configured feed identity into one
// aggregate per (user, window). Overlapping requests for the same key share a
// single pipeline run.
type Engine struct {
	device     domain.DeviceSource
	feed       domain.FeedSource
	identities domain.IdentityProvider
	cache      *cache.Controller

	sourceTimeout time.Duration
	monthlyGoalM  float64
	loc           *time.Location
	now           func() time.Time
	logger        *log.Logger

	runs runGroup

	mu          sync.RWMutex
	snapshots   map[string]domain.AggregatedStats
	published   map[string]domain.RecordSet
	lastErr     string
	subscribers []Subscriber
}

// New constructs an Engine.
func New(device domain.DeviceSource, feed domain.FeedSource, identities domain.IdentityProvider, controller *cache.Controller, opts ...Option) *Engine {
	e := &Engine{
		device:        device,
		feed:          feed,
		identities:    identities,
		cache:         controller,
		sourceTimeout: DefaultSourceTimeout,
		monthlyGoalM:  50_000,
		loc:           time.UTC,
		now:           time.Now,
		logger:        log.New(log.Writer(), "[engine] ", log.LstdFlags|log.Lshortfile),
		snapshots:     make(map[string]domain.AggregatedStats),
		published:     make(map[string]domain.RecordSet),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers s for future aggregates.
func (e *Engine) Subscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, s)
}

// FetchAllStats returns the aggregate for the window, serving the cache while
// it is valid. Callers overlapping an in-flight run for the same user and
// window receive that run's result.
func (e *Engine) FetchAllStats(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error) {
	if err := validate(userID, window); err != nil {
		return domain.AggregatedStats{}, err
	}
	if stats, ok := e.cache.Lookup(ctx, cache.Key(userID, window)); ok {
		return stats, nil
	}
	return e.run(ctx, userID, window)
}

// RefreshAll ignores any cached aggregate and reruns the whole pipeline, every
// tracked chart series and the full-year personal record scan included. A
// refresh issued while a run for the same user and window is in flight shares
// that run. A failed refresh leaves the previous aggregate cached.
func (e *Engine) RefreshAll(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error) {
	if err := validate(userID, window); err != nil {
		return domain.AggregatedStats{}, err
	}
	return e.run(ctx, userID, window)
}

// run computes, caches and publishes one aggregate. At most one run per user
// and window is in flight; it keeps going while any caller still waits on it.
func (e *Engine) run(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error) {
	key := cache.Key(userID, window)
	return e.runs.do(ctx, key, func(ctx context.Context) (domain.AggregatedStats, error) {
		stats, err := e.cache.Refresh(ctx, key, func(ctx context.Context) (domain.AggregatedStats, error) {
			return e.aggregate(ctx, userID, window)
		})
		if err != nil {
			e.setLastError(err)
			return domain.AggregatedStats{}, err
		}
		e.publish(ctx, key, stats)
		return stats, nil
	})
}

// GenerateChartData returns the merged series for one metric.
func (e *Engine) GenerateChartData(ctx context.Context, userID string, metric domain.Metric, window domain.Window) ([]domain.ChartPoint, error) {
	if _, err := domain.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	stats, err := e.FetchAllStats(ctx, userID, window)
	if err != nil {
		return nil, err
	}
	return stats.Series[metric], nil
}

// FetchPersonalRecords returns the merged personal records. Records always
// cover the full-year lookback, so any window's aggregate carries them.
func (e *Engine) FetchPersonalRecords(ctx context.Context, userID string) (domain.RecordSet, error) {
	e.mu.RLock()
	for _, w := range []domain.Window{domain.WindowWeek, domain.WindowMonth, domain.WindowYear} {
		if snap, ok := e.snapshots[cache.Key(userID, w)]; ok && e.now().Sub(snap.ComputedAt) < e.cache.TTL() {
			e.mu.RUnlock()
			return snap.Records, nil
		}
	}
	e.mu.RUnlock()

	stats, err := e.FetchAllStats(ctx, userID, domain.WindowWeek)
	if err != nil {
		return nil, err
	}
	return stats.Records, nil
}

// Invalidate drops every cached aggregate of the user so the next request
// recomputes it. Previously published records are kept for Annotate.
func (e *Engine) Invalidate(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrNoIdentity
	}
	var errs []error
	for _, w := range []domain.Window{domain.WindowWeek, domain.WindowMonth, domain.WindowYear} {
		key := cache.Key(userID, w)
		if err := e.cache.Invalidate(ctx, key); err != nil {
			errs = append(errs, err)
		}
		e.mu.Lock()
		delete(e.snapshots, key)
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Snapshot returns the last aggregate published for the user and window.
func (e *Engine) Snapshot(userID string, window domain.Window) (domain.AggregatedStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats, ok := e.snapshots[cache.Key(userID, window)]
	return stats, ok
}

// LastError returns the message of the most recent pipeline failure, or "" once
// a later run succeeds.
func (e *Engine) LastError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func validate(userID string, window domain.Window) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrNoIdentity
	}
	if _, err := domain.ParseWindow(string(window)); err != nil || window == "" {
		return domain.ErrUnknownWindow
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, key string, stats domain.AggregatedStats) {
	e.mu.Lock()
	e.snapshots[key] = stats
	e.published[stats.UserID] = stats.Records
	e.lastErr = ""
	subscribers := append([]Subscriber(nil), e.subscribers...)
	e.mu.Unlock()

	observability.RecordAggregatePublished(stats.ComputedAt)

	for _, s := range subscribers {
		if err := s.Publish(ctx, stats); err != nil {
			e.logger.Printf("subscriber error (user=%s, window=%s): %v", stats.UserID, stats.Window, err)
		}
	}
}

func (e *Engine) setLastError(err error) {
	if errors.Is(err, domain.ErrNoIdentity) || errors.Is(err, domain.ErrUnknownWindow) {
		return
	}
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

func (e *Engine) previousRecords(userID string) domain.RecordSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published[userID]
}
