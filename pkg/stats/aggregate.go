package stats

import (
	"math"
	"sort"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
)

// intervalHours converts a 15-minute average power sample into energy.
const intervalHours = 0.25

// hourStart returns the hour the interval ending at end belongs to. An
// interval ending exactly on the hour belongs to the previous hour.
func hourStart(end time.Time) time.Time {
	return end.UTC().Add(-types.IntervalLength).Truncate(time.Hour)
}

// Aggregate folds interval readings into hourly energy deltas keyed by the
// UTC start of the hour. Readings without a value for kind are skipped.
func Aggregate(readings []types.IntervalReading, kind types.SensorKind) map[time.Time]float64 {
	deltas := make(map[time.Time]float64)
	for _, r := range readings {
		v := r.Value(kind)
		if v == nil {
			continue
		}
		deltas[hourStart(r.IntervalEnd)] += *v * intervalHours
	}
	return deltas
}

// AggregateBuckets is Aggregate returning buckets sorted by hour, with the
// number of non-empty samples that went into each one.
func AggregateBuckets(pointID string, readings []types.IntervalReading, kind types.SensorKind) []types.HourlyBucket {
	byHour := make(map[int64]*types.HourlyBucket)
	for _, r := range readings {
		v := r.Value(kind)
		if v == nil {
			continue
		}
		start := hourStart(r.IntervalEnd)
		b, ok := byHour[start.Unix()]
		if !ok {
			b = &types.HourlyBucket{
				PointID:   pointID,
				Kind:      kind,
				HourStart: start,
			}
			byHour[start.Unix()] = b
		}
		b.DeltaKWh += *v * intervalHours
		b.Samples++
	}

	buckets := make([]types.HourlyBucket, 0, len(byHour))
	for _, b := range byHour {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].HourStart.Before(buckets[j].HourStart)
	})
	return buckets
}

// IncompleteHours returns the buckets that have fewer samples than a full
// hour of intervals.
func IncompleteHours(buckets []types.HourlyBucket) []types.HourlyBucket {
	perHour := int(time.Hour / types.IntervalLength)
	var incomplete []types.HourlyBucket
	for _, b := range buckets {
		if b.Samples < perHour {
			incomplete = append(incomplete, b)
		}
	}
	return incomplete
}

// PeriodSumMatches reports whether the buckets add up to the portal's reported
// total for the period. The portal sums raw samples, so the energy is scaled
// back before comparing.
func PeriodSumMatches(buckets []types.HourlyBucket, periodSum float64) bool {
	var total float64
	for _, b := range buckets {
		total += b.DeltaKWh
	}
	raw := total / intervalHours
	diff := math.Abs(raw - periodSum)
	return diff <= 1e-6 || diff <= 1e-6*math.Max(math.Abs(raw), math.Abs(periodSum))
}
