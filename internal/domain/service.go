package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity indicates the caller has no user or no enabled identity to query.
	ErrNoIdentity = errors.New("no identity configured for user")
	// ErrUnknownWindow is returned for an unsupported reporting window.
	ErrUnknownWindow = errors.New("unknown stats window")
	// ErrUnknownMetric is returned for an unsupported chart metric.
	ErrUnknownMetric = errors.New("unknown chart metric")
)

// PipelineError wraps a failure that aborted an aggregation pass.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("aggregation %s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Identity is one queryable account on the remote feed.
type Identity struct {
	ID      string `json:"id"`
	Handle  string `json:"handle,omitempty"`
	Primary bool   `json:"primary"`
	Enabled bool   `json:"enabled"`
}

// IdentitySet is the ordered set of identities configured for a user, primary first.
type IdentitySet []Identity

// Enabled returns the identities that should be queried.
func (s IdentitySet) Enabled() IdentitySet {
	out := make(IdentitySet, 0, len(s))
	for _, id := range s {
		if id.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// DeviceSource is the local device activity store. It is trusted and outranks the feed.
type DeviceSource interface {
	FetchEvents(ctx context.Context, userID string, r TimeRange) ([]ActivityEvent, error)
	FetchChartPoints(ctx context.Context, userID string, metric Metric, g Granularity, r TimeRange) ([]ChartPoint, error)
}

// FeedSource reads workouts published by one remote identity.
type FeedSource interface {
	FetchEvents(ctx context.Context, identity Identity, r TimeRange) ([]ActivityEvent, error)
	FetchChartPoints(ctx context.Context, identity Identity, metric Metric, g Granularity, r TimeRange) ([]ChartPoint, error)
}

// IdentityProvider supplies the identities configured for a user.
type IdentityProvider interface {
	Identities(ctx context.Context, userID string) (IdentitySet, error)
}
