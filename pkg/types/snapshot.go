package types

import "time"

// PointSnapshot is what sensors display for a point of delivery between
// update cycles.
type PointSnapshot struct {
	PointID     string `json:"pointID"`
	DisplayName string `json:"displayName"`
	// PeriodTotals are the portal's totals for yesterday. Kinds whose fetch
	// failed are absent.
	PeriodTotals     map[SensorKind]float64 `json:"periodTotals"`
	CumulativeTotals map[SensorKind]float64 `json:"cumulativeTotals"`
	LastUpdate       time.Time              `json:"lastUpdate"`
}

// CycleResult classifies how an update cycle ended.
type CycleResult string

const (
	CycleResultSuccess  CycleResult = "success"
	CycleResultAuth     CycleResult = "auth"
	CycleResultEmpty    CycleResult = "empty"
	CycleResultGeneric  CycleResult = "generic"
	CycleResultCanceled CycleResult = "canceled"
)

// CycleStatus summarizes the most recent update cycle.
type CycleStatus struct {
	Result         CycleResult `json:"result"`
	Error          string      `json:"error,omitempty"`
	Started        time.Time   `json:"started"`
	Finished       time.Time   `json:"finished"`
	NeedsReauth    bool        `json:"needsReauth"`
	PointsAppended int         `json:"pointsAppended"`
	FailedDays     int         `json:"failedDays"`
}
