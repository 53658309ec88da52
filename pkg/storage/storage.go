package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
)

var ErrSeriesNotFound = errors.New("series not found")

// Database persists hourly cumulative statistics. Points are keyed by their
// start hour within a series; appending a point whose start already exists
// overwrites it.
//
// The update cycle assumes it is the only writer of the series it owns.
type Database interface {
	// GetLastPoint returns the point with the greatest start, or nil when the
	// series has no points.
	GetLastPoint(ctx context.Context, seriesID string) (*types.StatisticPoint, error)

	// AppendPoints records metadata for the series and writes points.
	AppendPoints(ctx context.Context, metadata types.StatisticMetadata, points []types.StatisticPoint) error

	// GetPoints returns the points with start in [start, end) ordered by start.
	GetPoints(ctx context.Context, seriesID string, start, end time.Time) ([]types.StatisticPoint, error)

	// GetMetadata returns the metadata last written for the series or
	// ErrSeriesNotFound.
	GetMetadata(ctx context.Context, seriesID string) (types.StatisticMetadata, error)

	// ListSeries returns the metadata of every known series ordered by id.
	ListSeries(ctx context.Context) ([]types.StatisticMetadata, error)

	// Lifecycle
	Close() error
}
