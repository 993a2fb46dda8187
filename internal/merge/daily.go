// Package merge reconciles data reported by several sources for the same period.
package merge

import (
	"sort"
	"time"

	"example.com/aggregator/internal/domain"
)

type bucketKey struct {
	bucket time.Time
	metric domain.Metric
}

// MergeDaily combines chart points from every source into one point per
// (bucket, metric). Device points shadow feed points for the same bucket;
// among points of equal priority the first one in input order wins. The
// result is sorted by bucket, then metric.
func MergeDaily(g domain.Granularity, loc *time.Location, sets ...[]domain.ChartPoint) []domain.ChartPoint {
	winners := make(map[bucketKey]domain.ChartPoint)
	order := make([]bucketKey, 0)

	for _, set := range sets {
		for _, point := range set {
			key := bucketKey{bucket: g.BucketStart(point.Bucket, loc), metric: point.Metric}
			current, seen := winners[key]
			if !seen {
				order = append(order, key)
			}
			if !seen || point.Source.Priority() < current.Source.Priority() {
				point.Bucket = key.bucket
				winners[key] = point
			}
		}
	}

	out := make([]domain.ChartPoint, 0, len(order))
	for _, key := range order {
		out = append(out, winners[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].Metric < out[j].Metric
	})
	return out
}

// Bucketize sums a source's events into one point per bucket for the metric.
// Events outside r are ignored; events without a value for the metric (for
// example unknown calories) do not create a bucket.
func Bucketize(events []domain.ActivityEvent, metric domain.Metric, source domain.SourceID, g domain.Granularity, loc *time.Location, r domain.TimeRange) []domain.ChartPoint {
	sums := make(map[time.Time]float64)
	order := make([]time.Time, 0)
	for _, event := range events {
		if !r.Start.IsZero() && !r.Contains(event.StartedAt) {
			continue
		}
		value, ok := metric.Value(event)
		if !ok {
			continue
		}
		bucket := g.BucketStart(event.StartedAt, loc)
		if _, seen := sums[bucket]; !seen {
			order = append(order, bucket)
		}
		sums[bucket] += value
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]domain.ChartPoint, 0, len(order))
	for _, bucket := range order {
		out = append(out, domain.ChartPoint{Bucket: bucket, Metric: metric, Value: sums[bucket], Source: source})
	}
	return out
}

// Combine sums points that share a (bucket, metric, source), so that a source
// queried through several identities contributes one point per bucket.
func Combine(g domain.Granularity, loc *time.Location, sets ...[]domain.ChartPoint) []domain.ChartPoint {
	type sourceKey struct {
		bucketKey
		source domain.SourceID
	}
	sums := make(map[sourceKey]int)
	out := make([]domain.ChartPoint, 0)
	for _, set := range sets {
		for _, point := range set {
			point.Bucket = g.BucketStart(point.Bucket, loc)
			key := sourceKey{bucketKey{point.Bucket, point.Metric}, point.Source}
			if idx, ok := sums[key]; ok {
				out[idx].Value += point.Value
				continue
			}
			sums[key] = len(out)
			out = append(out, point)
		}
	}
	return out
}
