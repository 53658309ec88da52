package server

import (
	"context"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) Update(ctx context.Context) (types.CycleStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.CycleStatus), args.Error(1)
}

func (m *mockCoordinator) Status() types.CycleStatus {
	args := m.Called()
	return args.Get(0).(types.CycleStatus)
}

func (m *mockCoordinator) Available() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockCoordinator) Snapshot(pointID string) (types.PointSnapshot, bool) {
	args := m.Called(pointID)
	return args.Get(0).(types.PointSnapshot), args.Bool(1)
}

func (m *mockCoordinator) Snapshots() map[string]types.PointSnapshot {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]types.PointSnapshot)
}

func (m *mockCoordinator) ScanInterval() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *mockCoordinator) SetScanInterval(d time.Duration) error {
	args := m.Called(d)
	return args.Error(0)
}
