package storagemock

import (
	"context"
	"time"

	"github.com/ssdims/ssdims/pkg/storage"
	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetLastPoint(ctx context.Context, seriesID string) (*types.StatisticPoint, error) {
	args := m.Called(ctx, seriesID)
	if v := args.Get(0); v != nil {
		return v.(*types.StatisticPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) AppendPoints(ctx context.Context, metadata types.StatisticMetadata, points []types.StatisticPoint) error {
	args := m.Called(ctx, metadata, points)
	return args.Error(0)
}

func (m *MockDatabase) GetPoints(ctx context.Context, seriesID string, start, end time.Time) ([]types.StatisticPoint, error) {
	args := m.Called(ctx, seriesID, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.StatisticPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetMetadata(ctx context.Context, seriesID string) (types.StatisticMetadata, error) {
	args := m.Called(ctx, seriesID)
	return args.Get(0).(types.StatisticMetadata), args.Error(1)
}

func (m *MockDatabase) ListSeries(ctx context.Context) ([]types.StatisticMetadata, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.StatisticMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
