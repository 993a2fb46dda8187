// Package cache keeps computed aggregates for a fixed time-to-live.
package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/aggregator/internal/domain"
)

// DefaultTTL is how long a computed aggregate is served before recomputation.
const DefaultTTL = 5 * time.Minute

// ErrCacheMiss is returned by stores that hold no entry for a key.
var ErrCacheMiss = errors.New("cache miss")

// Entry is a computed aggregate and the moment it was computed.
type Entry struct {
	Stats      domain.AggregatedStats `json:"stats"`
	ComputedAt time.Time              `json:"computed_at"`
}

// Store persists entries. Implementations may expire entries on their own but
// the Controller always re-checks the age.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ComputeFunc produces a fresh aggregate.
type ComputeFunc func(ctx context.Context) (domain.AggregatedStats, error)

// Option configures optional behaviour for the Controller.
type Option func(*Controller)

// WithLogger overrides the logger used to report store errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Controller gates the aggregation pipeline behind a TTL cache. It does not
// serialise callers; the engine's per-key run group does that.
type Controller struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

// NewController constructs a Controller over the provided store.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: log.New(log.Writer(), "[cache] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a user and window.
func Key(userID string, window domain.Window) string {
	return userID + "|" + string(window)
}

// TTL returns the configured time-to-live.
func (c *Controller) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the cached aggregate when it is younger than the TTL.
func (c *Controller) Lookup(ctx context.Context, key string) (domain.AggregatedStats, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Printf("store read failed (key=%s): %v", key, err)
		}
		recordCacheResult(false)
		return domain.AggregatedStats{}, false
	}
	if c.now().Sub(entry.ComputedAt) >= c.ttl {
		recordCacheResult(false)
		return domain.AggregatedStats{}, false
	}
	recordCacheResult(true)
	return entry.Stats, true
}

// GetOrCompute serves a valid cached aggregate or runs compute and stores its
// result. When compute fails the previous entry is left untouched.
func (c *Controller) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (domain.AggregatedStats, bool, error) {
	if stats, ok := c.Lookup(ctx, key); ok {
		return stats, true, nil
	}

	stats, err := c.Refresh(ctx, key, compute)
	return stats, false, err
}

// Refresh recomputes unconditionally. A successful result replaces the entry
// wholesale and is returned normalised to UTC; a failed computation keeps the
// stale entry for later readers.
func (c *Controller) Refresh(ctx context.Context, key string, compute ComputeFunc) (domain.AggregatedStats, error) {
	stats, err := compute(ctx)
	if err != nil {
		return domain.AggregatedStats{}, err
	}
	// Entries are kept in UTC so a shared store returns what was computed.
	stats = stats.UTC()
	entry := Entry{Stats: stats, ComputedAt: c.now().UTC()}
	if err := c.store.Set(ctx, key, entry, c.ttl); err != nil {
		c.logger.Printf("store write failed (key=%s): %v", key, err)
	}
	return stats, nil
}

// Invalidate drops the entry for key.
func (c *Controller) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
