package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "equipment_alerts_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	refreshTotal   *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec

	eventsNormalized *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec

	episodesTotal         *prometheus.CounterVec
	consolidationFailOpen *prometheus.CounterVec

	alertsBuilt     *prometheus.CounterVec
	alertsFallback  prometheus.Counter
	alertsEmitted   *prometheus.CounterVec
	windowProcess   *prometheus.HistogramVec
	activeWindows   prometheus.Gauge
	windowsSwept    prometheus.Counter
	windowsFailOpen prometheus.Counter
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		refreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_total",
				Help: "Total refresh cycles by result",
			},
			[]string{"result"},
		)
		refreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_latency_seconds",
				Help:    "Refresh cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		eventsNormalized = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_normalized_total",
				Help: "Total raw events accepted by the normalizer by kind",
			},
			[]string{"kind"},
		)
		eventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_dropped_total",
				Help: "Total malformed raw events dropped by kind",
			},
			[]string{"kind"},
		)

		episodesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "episodes_total",
				Help: "Total episodes produced by kind",
			},
			[]string{"kind"},
		)
		consolidationFailOpen = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consolidation_fail_open_total",
				Help: "Consolidation passes that returned raw events after an internal failure",
			},
			[]string{"kind"},
		)

		alertsBuilt = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_built_total",
				Help: "Total alerts built by severity",
			},
			[]string{"severity"},
		)
		alertsFallback = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fallback_total",
				Help: "Total fallback alerts substituted after a build failure",
			},
		)
		alertsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_emitted_total",
				Help: "Total final alerts emitted by consolidation state",
			},
			[]string{"consolidated"},
		)
		windowProcess = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "window_process_latency_seconds",
				Help:    "Window consolidation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		activeWindows = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_windows",
				Help: "Active consolidation windows",
			},
		)
		windowsSwept = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "windows_swept_total",
				Help: "Total expired windows removed by sweeps",
			},
		)
		windowsFailOpen = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "window_fail_open_total",
				Help: "Window consolidation batches passed through after an internal failure",
			},
		)

		prometheus.MustRegister(
			refreshTotal,
			refreshLatency,
			eventsNormalized,
			eventsDropped,
			episodesTotal,
			consolidationFailOpen,
			alertsBuilt,
			alertsFallback,
			alertsEmitted,
			windowProcess,
			activeWindows,
			windowsSwept,
			windowsFailOpen,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRefresh records refresh cycle duration and result.
func ObserveRefresh(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if refreshTotal != nil {
		refreshTotal.WithLabelValues(result).Inc()
	}
	if refreshLatency != nil {
		refreshLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddEventsNormalized counts accepted raw events.
func AddEventsNormalized(kind string, count int) {
	if count <= 0 || eventsNormalized == nil {
		return
	}
	eventsNormalized.WithLabelValues(labelOrUnknown(kind)).Add(float64(count))
}

// AddEventsDropped counts malformed raw events.
func AddEventsDropped(kind string, count int) {
	if count <= 0 || eventsDropped == nil {
		return
	}
	eventsDropped.WithLabelValues(labelOrUnknown(kind)).Add(float64(count))
}

// AddEpisodes counts produced episodes.
func AddEpisodes(kind string, count int) {
	if count <= 0 || episodesTotal == nil {
		return
	}
	episodesTotal.WithLabelValues(labelOrUnknown(kind)).Add(float64(count))
}

// IncConsolidationFailOpen counts fail-open consolidation passes.
func IncConsolidationFailOpen(kind string) {
	if consolidationFailOpen != nil {
		consolidationFailOpen.WithLabelValues(labelOrUnknown(kind)).Inc()
	}
}

// IncAlertBuilt counts built alerts.
func IncAlertBuilt(severity string) {
	if alertsBuilt != nil {
		alertsBuilt.WithLabelValues(labelOrUnknown(severity)).Inc()
	}
}

// IncAlertFallback counts fallback alerts.
func IncAlertFallback() {
	if alertsFallback != nil {
		alertsFallback.Inc()
	}
}

// AddAlertsEmitted counts final alerts.
func AddAlertsEmitted(consolidated bool, count int) {
	if count <= 0 || alertsEmitted == nil {
		return
	}
	label := "false"
	if consolidated {
		label = "true"
	}
	alertsEmitted.WithLabelValues(label).Add(float64(count))
}

// ObserveWindowProcess records window consolidation duration and result.
func ObserveWindowProcess(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if windowProcess != nil {
		windowProcess.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result == resultError && windowsFailOpen != nil {
		windowsFailOpen.Inc()
	}
}

// SetActiveWindows sets the active window gauge.
func SetActiveWindows(count int) {
	if activeWindows != nil {
		activeWindows.Set(float64(count))
	}
}

// AddWindowsSwept counts windows removed by a sweep.
func AddWindowsSwept(count int) {
	if count <= 0 || windowsSwept == nil {
		return
	}
	windowsSwept.Add(float64(count))
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
