package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatabase runs the behavior every Database must share. seriesID should
// be unique per run for backends that keep state between runs.
func testDatabase(t *testing.T, db Database, seriesID string) {
	ctx := context.Background()
	md := types.StatisticMetadata{
		SeriesID:    seriesID,
		DisplayName: "Home Actual Consumption",
		Source:      types.StatisticsNamespace,
		Unit:        types.UnitKWh,
		HasSum:      true,
	}
	base := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	t.Run("EmptySeries", func(t *testing.T) {
		last, err := db.GetLastPoint(ctx, seriesID)
		require.NoError(t, err)
		assert.Nil(t, last)

		_, err = db.GetMetadata(ctx, seriesID)
		assert.ErrorIs(t, err, ErrSeriesNotFound)
	})

	t.Run("Append", func(t *testing.T) {
		require.NoError(t, db.AppendPoints(ctx, md, []types.StatisticPoint{
			{Start: base, Sum: 0.5},
			{Start: base.Add(time.Hour), Sum: 1.25},
		}))

		last, err := db.GetLastPoint(ctx, seriesID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, base.Add(time.Hour).Equal(last.Start))
		assert.InDelta(t, 1.25, last.Sum, 1e-9)

		got, err := db.GetMetadata(ctx, seriesID)
		require.NoError(t, err)
		assert.Equal(t, md, got)
	})

	t.Run("AppendLater", func(t *testing.T) {
		require.NoError(t, db.AppendPoints(ctx, md, []types.StatisticPoint{
			{Start: base.Add(2 * time.Hour), Sum: 2},
		}))

		last, err := db.GetLastPoint(ctx, seriesID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, base.Add(2*time.Hour).Equal(last.Start))
		assert.InDelta(t, 2.0, last.Sum, 1e-9)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, db.AppendPoints(ctx, md, []types.StatisticPoint{
			{Start: base.Add(time.Hour), Sum: 1.5},
		}))

		points, err := db.GetPoints(ctx, seriesID, base, base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 3)
		assert.InDelta(t, 1.5, points[1].Sum, 1e-9)
	})

	t.Run("GetPointsRange", func(t *testing.T) {
		points, err := db.GetPoints(ctx, seriesID, base.Add(time.Hour), base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 1, "end should be exclusive")
		assert.True(t, base.Add(time.Hour).Equal(points[0].Start))

		points, err = db.GetPoints(ctx, seriesID, base.Add(-48*time.Hour), base.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("MetadataOnly", func(t *testing.T) {
		other := md
		other.SeriesID = seriesID + "_supply"
		other.DisplayName = "Home Actual Supply"
		require.NoError(t, db.AppendPoints(ctx, other, nil))

		last, err := db.GetLastPoint(ctx, other.SeriesID)
		require.NoError(t, err)
		assert.Nil(t, last)

		list, err := db.ListSeries(ctx)
		require.NoError(t, err)
		var ids []string
		for _, m := range list {
			ids = append(ids, m.SeriesID)
		}
		assert.Contains(t, ids, seriesID)
		assert.Contains(t, ids, other.SeriesID)
	})
}

func uniqueSeriesID(prefix string) string {
	return fmt.Sprintf("%s:test_%d_actual_consumption", prefix, time.Now().UnixNano())
}
