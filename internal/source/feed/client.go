// Package feed queries the remote workout feed for one identity at a time.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/merge"
	"example.com/aggregator/internal/source/snapshot"
)

// DefaultTimeout bounds a single feed request.
const DefaultTimeout = 10 * time.Second

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLocation sets the calendar used for chart buckets.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithSnapshotTTL sets how long a fetched workout list may back chart points.
// Zero makes every chart request refetch.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.snapshots = snapshot.New(ttl, nil)
	}
}

// Client calls GET {base}/v1/identities/{id}/workouts?from=&to=.
type Client struct {
	client    *http.Client
	base      string
	token     string
	loc       *time.Location
	snapshots *snapshot.Store
}

// NewClient constructs a Client.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		client:    &http.Client{Timeout: timeout},
		base:      strings.TrimRight(baseURL, "/"),
		token:     token,
		loc:       time.UTC,
		snapshots: snapshot.New(snapshot.DefaultTTL, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type workoutsResponse struct {
	Workouts []workout `json:"workouts"`
}

type workout struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  float64   `json:"duration_sec"`
	DistanceM    float64   `json:"distance_m"`
	PaceMinPerKm float64   `json:"pace_min_per_km"`
	Calories     *float64  `json:"calories"`
	Location     string    `json:"location"`
}

// FetchEvents returns the identity's workouts started within rng.
func (c *Client) FetchEvents(ctx context.Context, identity domain.Identity, rng domain.TimeRange) ([]domain.ActivityEvent, error) {
	endpoint := fmt.Sprintf("%s/v1/identities/%s/workouts", c.base, url.PathEscape(identity.ID))
	query := url.Values{}
	query.Set("from", rng.Start.UTC().Format(time.RFC3339))
	query.Set("to", rng.End.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Identity: identity.ID, Status: resp.StatusCode}
	}

	var body workoutsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	events := make([]domain.ActivityEvent, 0, len(body.Workouts))
	for _, w := range body.Workouts {
		if !rng.Contains(w.StartedAt) {
			continue
		}
		events = append(events, domain.ActivityEvent{
			ID:           w.ID,
			Source:       domain.SourceFeed,
			Identity:     identity.ID,
			Type:         domain.ParseActivityType(w.Type),
			StartedAt:    w.StartedAt.UTC(),
			DurationSec:  nonNegative(w.DurationSec),
			DistanceM:    nonNegative(w.DistanceM),
			PaceMinPerKm: nonNegative(w.PaceMinPerKm),
			Calories:     w.Calories,
			Location:     w.Location,
		})
	}
	c.snapshots.Put(identity.ID, rng, events)
	return events, nil
}

// FetchChartPoints buckets the identity's workouts for one metric. Workouts
// from a recent FetchEvents covering rng are reused.
func (c *Client) FetchChartPoints(ctx context.Context, identity domain.Identity, metric domain.Metric, g domain.Granularity, rng domain.TimeRange) ([]domain.ChartPoint, error) {
	events, ok := c.snapshots.Get(identity.ID, rng)
	if !ok {
		var err error
		if events, err = c.FetchEvents(ctx, identity, rng); err != nil {
			return nil, err
		}
	}
	return merge.Bucketize(events, metric, domain.SourceFeed, g, c.loc, rng), nil
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// StatusError represents a non-successful feed response.
type StatusError struct {
	Identity string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed request for %s failed with status %s", e.Identity, http.StatusText(e.Status))
}
