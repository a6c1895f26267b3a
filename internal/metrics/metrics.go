package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energybill_requests_total",
			Help: "Total number of HTTP requests per path",
		},
		[]string{"path"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energybill_request_duration_seconds",
			Help:    "Request duration in seconds per path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energybill_request_errors_total",
			Help: "Total number of error responses per path and status code",
		},
		[]string{"path", "code"},
	)
)

var (
	CalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energybill_calculations_total",
			Help: "Calculation requests by outcome (created, invalid, not_found, failed)",
		},
		[]string{"outcome"},
	)

	CalculationLineItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energybill_calculation_line_items_total",
			Help: "Line items recorded per rate type",
		},
		[]string{"type"},
	)

	CalculationValue = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "energybill_calculation_value",
			Help:    "Distribution of calculated bill totals",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
	)

	SkippedRatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "energybill_skipped_rates_total",
			Help: "Active rates ignored because their type is not recognised",
		},
	)

	StalePendingCalculations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energybill_stale_pending_calculations",
			Help: "Calculations left without a total past the staleness threshold, as of the last sweep",
		},
	)
)

// ObserveCalculation records the outcome of one calculation request.
func ObserveCalculation(outcome string) {
	CalculationsTotal.WithLabelValues(outcome).Inc()
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "energybill_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "energybill_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energybill_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
