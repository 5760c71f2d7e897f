package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// Aggregation selects the reduction applied per bucket.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
	AggP50   Aggregation = "p50"
	AggP90   Aggregation = "p90"
	AggP95   Aggregation = "p95"
	AggP99   Aggregation = "p99"
)

// Valid reports whether the aggregation is known.
func (a Aggregation) Valid() bool {
	switch a {
	case AggSum, AggAvg, AggMin, AggMax, AggCount, AggP50, AggP90, AggP95, AggP99:
		return true
	default:
		return false
	}
}

// Bucket is one fixed-width time bucket's reduced value.
type Bucket struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Count     int       `json:"count"`
}

// Aggregate groups matching samples into fixed-size buckets anchored to
// each bucket's floor-rounded start and reduces them per metric name.
func (s *Store) Aggregate(ctx context.Context, filter model.MetricFilter, agg Aggregation, bucketMinutes int) (map[string][]Bucket, error) {
	if !agg.Valid() {
		return nil, fmt.Errorf("unknown aggregation %q", string(agg))
	}
	if bucketMinutes <= 0 {
		return nil, fmt.Errorf("bucket minutes must be positive, got %d", bucketMinutes)
	}

	// The aggregation walks every matching sample; drop any query limit.
	filter.Limit = 0
	samples, err := s.backend.QueryMetrics(ctx, filter)
	if err != nil {
		return nil, err
	}
	return BucketSamples(samples, agg, bucketMinutes), nil
}

// BucketSamples performs the bucket grouping and reduction over an
// in-memory sample set.
func BucketSamples(samples []model.Metric, agg Aggregation, bucketMinutes int) map[string][]Bucket {
	bucketSize := time.Duration(bucketMinutes) * time.Minute

	// name -> bucket start -> values
	grouped := make(map[string]map[time.Time][]float64)
	for i := range samples {
		m := &samples[i]
		start := m.Timestamp.Truncate(bucketSize)
		byStart, ok := grouped[m.Name]
		if !ok {
			byStart = make(map[time.Time][]float64)
			grouped[m.Name] = byStart
		}
		byStart[start] = append(byStart[start], m.Value)
	}

	out := make(map[string][]Bucket, len(grouped))
	for name, byStart := range grouped {
		buckets := make([]Bucket, 0, len(byStart))
		for start, values := range byStart {
			buckets = append(buckets, Bucket{
				Timestamp: start,
				Value:     reduce(values, agg),
				Count:     len(values),
			})
		}
		sort.Slice(buckets, func(i, j int) bool { return buckets[i].Timestamp.Before(buckets[j].Timestamp) })
		out[name] = buckets
	}
	return out
}

func reduce(values []float64, agg Aggregation) float64 {
	if len(values) == 0 {
		return 0
	}
	switch agg {
	case AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case AggCount:
		return float64(len(values))
	case AggP50:
		return percentile(values, 0.50)
	case AggP90:
		return percentile(values, 0.90)
	case AggP95:
		return percentile(values, 0.95)
	case AggP99:
		return percentile(values, 0.99)
	default:
		return 0
	}
}

// percentile sorts a copy of the values and picks the rank floor(n*p),
// counting from one, clamped to the ends.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Floor(float64(len(sorted)) * p))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
