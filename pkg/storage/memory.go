package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
)

type memorySeries struct {
	metadata types.StatisticMetadata
	points   []types.StatisticPoint
}

// Memory is a Database held entirely in memory. Nothing survives a restart so
// it is only useful for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	series map[string]*memorySeries
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		series: make(map[string]*memorySeries),
	}
}

// GetLastPoint implements Database.
func (m *Memory) GetLastPoint(ctx context.Context, seriesID string) (*types.StatisticPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[seriesID]
	if !ok || len(s.points) == 0 {
		return nil, nil
	}
	p := s.points[len(s.points)-1]
	return &p, nil
}

// AppendPoints implements Database.
func (m *Memory) AppendPoints(ctx context.Context, metadata types.StatisticMetadata, points []types.StatisticPoint) error {
	if metadata.SeriesID == "" {
		return fmt.Errorf("series id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[metadata.SeriesID]
	if !ok {
		s = &memorySeries{}
		m.series[metadata.SeriesID] = s
	}
	s.metadata = metadata

	for _, p := range points {
		p.Start = p.Start.UTC()
		i := sort.Search(len(s.points), func(i int) bool {
			return !s.points[i].Start.Before(p.Start)
		})
		if i < len(s.points) && s.points[i].Start.Equal(p.Start) {
			s.points[i] = p
			continue
		}
		s.points = append(s.points, types.StatisticPoint{})
		copy(s.points[i+1:], s.points[i:])
		s.points[i] = p
	}
	return nil
}

// GetPoints implements Database.
func (m *Memory) GetPoints(ctx context.Context, seriesID string, start, end time.Time) ([]types.StatisticPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[seriesID]
	if !ok {
		return nil, nil
	}
	var points []types.StatisticPoint
	for _, p := range s.points {
		if p.Start.Before(start) || !p.Start.Before(end) {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// GetMetadata implements Database.
func (m *Memory) GetMetadata(ctx context.Context, seriesID string) (types.StatisticMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[seriesID]
	if !ok {
		return types.StatisticMetadata{}, fmt.Errorf("%s: %w", seriesID, ErrSeriesNotFound)
	}
	return s.metadata, nil
}

// ListSeries implements Database.
func (m *Memory) ListSeries(ctx context.Context) ([]types.StatisticMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]types.StatisticMetadata, 0, len(m.series))
	for _, s := range m.series {
		list = append(list, s.metadata)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].SeriesID < list[j].SeriesID
	})
	return list, nil
}

// Close implements Database.
func (m *Memory) Close() error {
	return nil
}
