package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/ukydev/fleet-insights/internal/models"
)

// Bucket is one period of a Frame. End is exclusive.
type Bucket struct {
	Key      string             `json:"key"`
	Label    string             `json:"label"`
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Count    int                `json:"count"`
	Value    float64            `json:"value"`
	ByEntity map[string]float64 `json:"by_entity,omitempty"`
}

// Frame is an ordered run of contiguous buckets covering [Start, End].
type Frame struct {
	Granularity Granularity `json:"granularity"`
	Label       string      `json:"label"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Buckets     []Bucket    `json:"buckets"`
}

// Stamp picks the instant a trip is bucketed by.
type Stamp func(models.Trip) time.Time

// CreatedAt buckets by record creation time.
func CreatedAt(t models.Trip) time.Time { return t.CreatedAt }

// StartTime buckets by trip start time.
func StartTime(t models.Trip) time.Time { return t.StartTime }

// Metric extracts the quantity a bucket sums.
type Metric func(models.Trip) float64

func TripCount(models.Trip) float64     { return 1 }
func FuelUsed(t models.Trip) float64    { return t.FuelUsed }
func Miles(t models.Trip) float64       { return t.TotalMiles }
func EngineHours(t models.Trip) float64 { return t.TotalEngineHours }

// KeyFunc resolves the entity a trip belongs to. ok is false when the trip
// carries no usable key.
type KeyFunc func(models.Trip) (key string, ok bool)

// ByDriver keys trips by driver id.
func ByDriver(t models.Trip) (string, bool) {
	if t.DriverID.IsZero() {
		return "", false
	}
	return t.DriverID.Hex(), true
}

// ByCarrier keys trips by carrier id.
func ByCarrier(t models.Trip) (string, bool) {
	if t.CarrierID.IsZero() {
		return "", false
	}
	return t.CarrierID.Hex(), true
}

// Query describes one accumulation pass over a trip list.
type Query struct {
	// Stamp defaults to CreatedAt.
	Stamp Stamp
	// Metric defaults to TripCount.
	Metric Metric
	// Filter is applied in addition to the completed-only rule.
	Filter Predicate
	// GroupBy enables the per-entity breakdown.
	GroupBy KeyFunc
	// Entities are zero-initialized in every bucket. When set, trips whose
	// key is not listed are dropped.
	Entities []string
}

// Accumulate adds every completed trip whose stamp falls in [f.Start, f.End]
// to the bucket containing it. Buckets keep their initialization order.
func (f *Frame) Accumulate(trips []models.Trip, q Query) {
	stamp := q.Stamp
	if stamp == nil {
		stamp = CreatedAt
	}
	metric := q.Metric
	if metric == nil {
		metric = TripCount
	}

	var known map[string]struct{}
	if q.GroupBy != nil {
		if len(q.Entities) > 0 {
			known = make(map[string]struct{}, len(q.Entities))
			for _, e := range q.Entities {
				known[e] = struct{}{}
			}
		}
		for i := range f.Buckets {
			if f.Buckets[i].ByEntity == nil {
				f.Buckets[i].ByEntity = make(map[string]float64, len(q.Entities))
			}
			for _, e := range q.Entities {
				if _, exists := f.Buckets[i].ByEntity[e]; !exists {
					f.Buckets[i].ByEntity[e] = 0
				}
			}
		}
	}

	for _, t := range trips {
		if !t.IsCompleted() {
			continue
		}
		if q.Filter != nil && !q.Filter(t) {
			continue
		}
		at := stamp(t)
		if at.IsZero() {
			continue
		}
		b := f.bucketFor(at)
		if b == nil {
			continue
		}

		var key string
		if q.GroupBy != nil {
			k, ok := q.GroupBy(t)
			if !ok {
				continue
			}
			if known != nil {
				if _, listed := known[k]; !listed {
					continue
				}
			}
			key = k
		}

		v := metric(t)
		b.Count++
		b.Value += v
		if q.GroupBy != nil {
			b.ByEntity[key] += v
		}
	}
}

func (f *Frame) bucketFor(at time.Time) *Bucket {
	if at.Before(f.Start) || at.After(f.End) {
		return nil
	}
	i := sort.Search(len(f.Buckets), func(i int) bool {
		return f.Buckets[i].End.After(at)
	})
	if i == len(f.Buckets) || at.Before(f.Buckets[i].Start) {
		return nil
	}
	return &f.Buckets[i]
}

// Total sums Value over all buckets.
func (f *Frame) Total() float64 {
	var sum float64
	for _, b := range f.Buckets {
		sum += b.Value
	}
	return sum
}

// EntityTotal sums one entity's contribution over all buckets.
func (f *Frame) EntityTotal(key string) float64 {
	var sum float64
	for _, b := range f.Buckets {
		sum += b.ByEntity[key]
	}
	return sum
}

// Trend is the change between the last two buckets of a series.
type Trend struct {
	Percent  float64 `json:"percent"`
	Positive bool    `json:"positive"`
}

// Trend compares the last bucket with the one before it.
func (f *Frame) Trend() Trend {
	n := len(f.Buckets)
	if n < 2 {
		return Trend{Positive: true}
	}
	return TrendOf(f.Buckets[n-2].Value, f.Buckets[n-1].Value)
}

// TrendOf returns the absolute percentage change from prev to cur. A zero
// (or negative) previous value yields 0% flagged positive, even when cur is
// non-zero.
func TrendOf(prev, cur float64) Trend {
	if prev <= 0 {
		return Trend{Percent: 0, Positive: true}
	}
	pct := (cur - prev) / prev * 100
	return Trend{Percent: math.Abs(pct), Positive: pct >= 0}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
