package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsInProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proberun_runs_in_progress",
		Help: "The number of test runs currently in progress",
	}, []string{"instance", "origin"})

	DescriptorsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proberun_descriptors_run_total",
		Help: "The number of descriptors run since the service was started",
	}, []string{"instance", "descriptor"})

	MeasurementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proberun_measurements_total",
		Help: "The number of measurements finished since the service was started",
	}, []string{"instance", "test_name", "outcome"})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proberun_uploads_total",
		Help: "The number of measurement uploads attempted by the upload pipeline",
	}, []string{"instance", "outcome"})

	AutoRunDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proberun_autorun_decisions_total",
		Help: "The number of unattended run decisions by reason",
	}, []string{"instance", "reason"})
)

// MeasurementOutcome returns the outcome label of a finished measurement.
func MeasurementOutcome(isFailed, isAnomaly bool) string {
	switch {
	case isFailed:
		return "failed"
	case isAnomaly:
		return "anomaly"
	}

	return "ok"
}
