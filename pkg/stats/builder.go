package stats

import (
	"sort"

	"github.com/ssdims/ssdims/pkg/types"
)

// Build converts hourly deltas into cumulative statistics continuing from
// anchor. Buckets at or before the anchor's hour are skipped so rebuilding an
// overlapping range never counts an hour twice. Buckets sharing an hour are
// merged, which keeps the emitted starts strictly increasing.
//
// The anchor must be read from the store right before calling Build.
func Build(buckets []types.HourlyBucket, anchor types.Anchor) []types.StatisticPoint {
	sorted := make([]types.HourlyBucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].HourStart.Before(sorted[j].HourStart)
	})

	sum := anchor.Sum
	var points []types.StatisticPoint
	for _, b := range sorted {
		start := b.HourStart.UTC()
		if !anchor.Last.IsZero() && !start.After(anchor.Last) {
			continue
		}
		sum += b.DeltaKWh
		if n := len(points); n > 0 && points[n-1].Start.Equal(start) {
			points[n-1].Sum = sum
			continue
		}
		points = append(points, types.StatisticPoint{
			Start: start,
			Sum:   sum,
		})
	}
	return points
}
