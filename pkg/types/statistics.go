package types

import "time"

const (
	// StatisticsNamespace prefixes every series id and is recorded as the
	// statistics source.
	StatisticsNamespace = "ssd_ims"

	UnitKWh = "kWh"
)

// HourlyBucket is the energy for one point and kind during one hour.
type HourlyBucket struct {
	PointID   string     `json:"pointID"`
	Kind      SensorKind `json:"kind"`
	HourStart time.Time  `json:"hourStart"`
	DeltaKWh  float64    `json:"deltaKWh"`
	// Samples is the number of non-empty interval readings in the hour.
	Samples int `json:"samples"`
}

// StatisticPoint is one hourly cumulative statistic.
type StatisticPoint struct {
	Start time.Time `json:"start"`
	Sum   float64   `json:"sum"`
}

// StatisticMetadata describes a series when points are appended to it.
type StatisticMetadata struct {
	SeriesID    string `json:"seriesID"`
	DisplayName string `json:"displayName"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	HasSum      bool   `json:"hasSum"`
}

// Anchor is the last persisted point of a series. A zero Last means the series
// has no statistics yet.
type Anchor struct {
	Last time.Time
	Sum  float64
}

// AnchorFrom converts the store's last point into an Anchor.
func AnchorFrom(p *StatisticPoint) Anchor {
	if p == nil {
		return Anchor{}
	}
	return Anchor{Last: p.Start, Sum: p.Sum}
}
