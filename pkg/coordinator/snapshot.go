package coordinator

import (
	"github.com/ssdims/ssdims/pkg/types"
)

// available reports whether sensors should show values. Generic, canceled
// and empty discovery failures keep the previous snapshot visible; an
// authentication failure hides it.
func (c *Coordinator) available() bool {
	switch c.status.Result {
	case types.CycleResultSuccess:
		return true
	case types.CycleResultGeneric, types.CycleResultEmpty, types.CycleResultCanceled:
		return len(c.snapshots) > 0
	default:
		return false
	}
}

// Snapshot returns the latest values for a point of delivery. ok is false
// when the point is unknown or sensors are unavailable.
func (c *Coordinator) Snapshot(pointID string) (types.PointSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available() {
		return types.PointSnapshot{}, false
	}
	snap, ok := c.snapshots[pointID]
	if !ok {
		return types.PointSnapshot{}, false
	}
	return copySnapshot(snap), true
}

// Snapshots returns the latest values of every point, or nil when sensors
// are unavailable.
func (c *Coordinator) Snapshots() map[string]types.PointSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available() {
		return nil
	}
	out := make(map[string]types.PointSnapshot, len(c.snapshots))
	for id, snap := range c.snapshots {
		out[id] = copySnapshot(snap)
	}
	return out
}

// Status returns the summary of the last finished cycle.
func (c *Coordinator) Status() types.CycleStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Available reports whether sensors currently have values to show.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available()
}

func copySnapshot(snap types.PointSnapshot) types.PointSnapshot {
	out := snap
	out.PeriodTotals = make(map[types.SensorKind]float64, len(snap.PeriodTotals))
	for k, v := range snap.PeriodTotals {
		out.PeriodTotals[k] = v
	}
	out.CumulativeTotals = make(map[types.SensorKind]float64, len(snap.CumulativeTotals))
	for k, v := range snap.CumulativeTotals {
		out.CumulativeTotals[k] = v
	}
	return out
}
