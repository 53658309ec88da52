package coordinator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ssdims/ssdims/pkg/types"
)

// Metrics are the coordinator's prometheus collectors. They live on their own
// registry so tests can create as many coordinators as they like.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	fetchFailures   *prometheus.CounterVec
	pointsAppended  *prometheus.CounterVec
	cumulativeTotal *prometheus.GaugeVec
	periodTotal     *prometheus.GaugeVec
	lastSuccess     prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssdims_update_cycles_total",
				Help: "Update cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ssdims_update_cycle_duration_seconds",
				Help:    "Duration of update cycles",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssdims_fetch_failures_total",
				Help: "Days whose readings could not be fetched",
			},
			[]string{"point_id"},
		),
		pointsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssdims_statistics_appended_total",
				Help: "Hourly statistics appended to the store",
			},
			[]string{"series_id"},
		),
		cumulativeTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ssdims_cumulative_kwh",
				Help: "Last published cumulative energy",
			},
			[]string{"point_id", "kind"},
		),
		periodTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ssdims_yesterday_kwh",
				Help: "Energy reported by the portal for yesterday",
			},
			[]string{"point_id", "kind"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssdims_last_success_timestamp_seconds",
				Help: "Unix time of the last successful update cycle",
			},
		),
	}
	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.fetchFailures,
		m.pointsAppended,
		m.cumulativeTotal,
		m.periodTotal,
		m.lastSuccess,
	)
	return m
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeCycle(status types.CycleStatus) {
	m.cycles.WithLabelValues(string(status.Result)).Inc()
	m.cycleDuration.Observe(status.Finished.Sub(status.Started).Seconds())
	if status.Result == types.CycleResultSuccess {
		m.lastSuccess.Set(float64(status.Finished.Unix()))
	}
}

func (m *Metrics) observeSnapshot(snap types.PointSnapshot) {
	for kind, v := range snap.CumulativeTotals {
		m.cumulativeTotal.WithLabelValues(snap.PointID, kind.String()).Set(v)
	}
	for kind, v := range snap.PeriodTotals {
		m.periodTotal.WithLabelValues(snap.PointID, kind.String()).Set(v)
	}
}
