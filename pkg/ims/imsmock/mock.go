package imsmock

import (
	"context"
	"time"

	"github.com/ssdims/ssdims/pkg/ims"
	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockAPI is a testify mock of ims.API. SessionEpoch and
// ListPointsOfDelivery also accept a func as their first return value so a
// test can change the session while a cycle runs.
type MockAPI struct {
	mock.Mock
}

var _ ims.API = (*MockAPI)(nil)

func (m *MockAPI) Authenticate(ctx context.Context, username, password string) (bool, error) {
	args := m.Called(ctx, username, password)
	return args.Bool(0), args.Error(1)
}

func (m *MockAPI) Login(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockAPI) Authenticated() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAPI) ListPointsOfDelivery(ctx context.Context) ([]types.PointOfDeliveryEntry, error) {
	args := m.Called(ctx)
	switch v := args.Get(0).(type) {
	case nil:
		return nil, args.Error(1)
	case func() []types.PointOfDeliveryEntry:
		return v(), args.Error(1)
	default:
		return v.([]types.PointOfDeliveryEntry), args.Error(1)
	}
}

func (m *MockAPI) GetIntervalReadings(ctx context.Context, handle string, from, to time.Time) (types.ReadingsResponse, error) {
	args := m.Called(ctx, handle, from, to)
	return args.Get(0).(types.ReadingsResponse), args.Error(1)
}

func (m *MockAPI) SessionEpoch() uint64 {
	args := m.Called()
	if fn, ok := args.Get(0).(func() uint64); ok {
		return fn()
	}
	return args.Get(0).(uint64)
}
