// Package snapshot remembers the latest event fetch of a source per owner, so
// chart points bucketed right after a fetch come from the same events instead
// of a second round trip.
package snapshot

import (
	"sync"
	"time"

	"example.com/aggregator/internal/domain"
)

// DefaultTTL is how long a fetched event set may back chart points.
const DefaultTTL = 30 * time.Second

type entry struct {
	rng       domain.TimeRange
	events    []domain.ActivityEvent
	fetchedAt time.Time
}

// Store holds one event set per owner key.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New constructs a Store. A non-positive ttl disables it.
func New(ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{ttl: ttl, now: now, entries: make(map[string]entry)}
}

// Put records the events fetched for key over rng, replacing any earlier set.
func (s *Store) Put(key string, rng domain.TimeRange, events []domain.ActivityEvent) {
	if s == nil || s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.entries[key] = entry{rng: rng, events: events, fetchedAt: s.now()}
}

// Get returns the events of the latest fetch for key restricted to rng, when
// that fetch covered rng and is younger than the TTL.
func (s *Store) Get(key string, rng domain.TimeRange) ([]domain.ActivityEvent, bool) {
	if s == nil || s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	e, ok := s.entries[key]
	if !ok || rng.Start.Before(e.rng.Start) || rng.End.After(e.rng.End) {
		return nil, false
	}
	out := make([]domain.ActivityEvent, 0, len(e.events))
	for _, ev := range e.events {
		if rng.Contains(ev.StartedAt) {
			out = append(out, ev)
		}
	}
	return out, true
}

func (s *Store) prune() {
	now := s.now()
	for key, e := range s.entries {
		if now.Sub(e.fetchedAt) >= s.ttl {
			delete(s.entries, key)
		}
	}
}
