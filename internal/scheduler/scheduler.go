// Package scheduler periodically refreshes the aggregates of configured users.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/observability"
)

// DefaultSchedule refreshes every configured user every quarter hour.
const DefaultSchedule = "@every 15m"

// Refresher forces a recomputation of one aggregate.
type Refresher interface {
	RefreshAll(ctx context.Context, userID string, window domain.Window) (domain.AggregatedStats, error)
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithWindows overrides the windows refreshed per user.
func WithWindows(windows ...domain.Window) Option {
	return func(s *Scheduler) {
		if len(windows) > 0 {
			s.windows = windows
		}
	}
}

// WithRunTimeout bounds one complete refresh pass.
func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		s.runTimeout = timeout
	}
}

// Scheduler runs RefreshAll for every (user, window) on a cron schedule. A
// pass that is still running when the next one is due is skipped.
type Scheduler struct {
	refresher  Refresher
	users      []string
	windows    []domain.Window
	runTimeout time.Duration
	logger     *log.Logger
	cron       *cron.Cron
}

// New constructs a Scheduler.
func New(refresher Refresher, users []string, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher:  refresher,
		users:      users,
		windows:    []domain.Window{domain.WindowWeek, domain.WindowMonth, domain.WindowYear},
		runTimeout: 5 * time.Minute,
		logger:     log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return s
}

// Start registers the refresh job under schedule and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Printf("scheduled refresh finished with errors: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Printf("refreshing %d users on %q", len(s.users), schedule)
	return nil
}

// Stop halts the cron loop. The returned context is done once a running pass
// has completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce refreshes every configured (user, window) sequentially. Failures do
// not stop the pass; they are joined into the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, user := range s.users {
		for _, window := range s.windows {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if _, err := s.refresher.RefreshAll(ctx, user, window); err != nil {
				errs = append(errs, fmt.Errorf("refresh %s/%s: %w", user, window, err))
			}
		}
	}
	observability.RecordRefreshCompleted(time.Now())
	return errors.Join(errs...)
}
