package types

import "time"

// IntervalLength is the resolution of the portal's profile data.
const IntervalLength = 15 * time.Minute

// IntervalReading is one 15-minute sample. IntervalEnd marks the end of the
// window. A nil value means the portal had no data for that interval.
type IntervalReading struct {
	PointID     string
	IntervalEnd time.Time
	Consumption *float64
	Supply      *float64
}

// Value returns the reading for the given kind.
func (r IntervalReading) Value(kind SensorKind) *float64 {
	switch kind {
	case KindConsumption:
		return r.Consumption
	case KindSupply:
		return r.Supply
	default:
		panic("unknown sensor kind")
	}
}

// ReadingsResponse is the profile data for a single requested range. All
// slices are index-aligned.
type ReadingsResponse struct {
	Timestamps           []time.Time
	Consumption          []*float64
	Supply               []*float64
	PeriodSumConsumption *float64
	PeriodSumSupply      *float64
}

// PeriodSum returns the portal's total for the range for the given kind.
func (r ReadingsResponse) PeriodSum(kind SensorKind) *float64 {
	switch kind {
	case KindConsumption:
		return r.PeriodSumConsumption
	case KindSupply:
		return r.PeriodSumSupply
	default:
		panic("unknown sensor kind")
	}
}

// Readings converts the response into interval readings for pointID.
func (r ReadingsResponse) Readings(pointID string) []IntervalReading {
	readings := make([]IntervalReading, 0, len(r.Timestamps))
	for i, ts := range r.Timestamps {
		reading := IntervalReading{
			PointID:     pointID,
			IntervalEnd: ts.UTC(),
		}
		if i < len(r.Consumption) {
			reading.Consumption = r.Consumption[i]
		}
		if i < len(r.Supply) {
			reading.Supply = r.Supply[i]
		}
		readings = append(readings, reading)
	}
	return readings
}
