package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "run",
			Name:      "total",
			Help:      "Number of finished runs by result (success, warning, error).",
		}, []string{"result"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logdrain",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall clock duration of a run.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	logsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "logs",
			Name:      "processed_total",
			Help:      "Number of log records handed to the handler successfully.",
		},
	)
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "batch",
			Name:      "total",
			Help:      "Number of handler invocations by outcome (ok, retry, skipped).",
		}, []string{"outcome"},
	)
	fetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Number of page fetches retried, by error kind.",
		}, []string{"kind"},
	)
	rateLimitRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logdrain",
			Subsystem: "fetch",
			Name:      "rate_limit_remaining",
			Help:      "Last observed remaining Management API rate limit budget.",
		},
	)
	lastLogTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logdrain",
			Subsystem: "logs",
			Name:      "last_processed_timestamp_seconds",
			Help:      "Date of the most recently processed log record as unix seconds.",
		},
	)
	sinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Number of batch writes per sink by result.",
		}, []string{"sink", "result"},
	)
	reportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "report",
			Name:      "sent_total",
			Help:      "Number of reporter deliveries by kind and result.",
		}, []string{"kind", "result"},
	)
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logdrain",
			Subsystem: "tick",
			Name:      "total",
			Help:      "Number of ticks by trigger and phase.",
		}, []string{"trigger", "phase"},
	)
	nextSchedule = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logdrain",
			Subsystem: "schedule",
			Name:      "next_timestamp_seconds",
			Help:      "Next scheduled tick as unix seconds.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, runDuration, logsProcessed, batchesTotal, fetchRetries, rateLimitRemaining, lastLogTimestamp, sinkWrites, reportsSent, ticksTotal, nextSchedule}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveRun(result string, seconds float64) {
	if regOK.Load() {
		runsTotal.WithLabelValues(result).Inc()
		runDuration.Observe(seconds)
	}
}

func AddLogsProcessed(n int) {
	if regOK.Load() && n > 0 {
		logsProcessed.Add(float64(n))
	}
}

func IncBatch(outcome string) {
	if regOK.Load() {
		batchesTotal.WithLabelValues(outcome).Inc()
	}
}

func IncFetchRetry(kind string) {
	if regOK.Load() {
		fetchRetries.WithLabelValues(kind).Inc()
	}
}

func SetRateLimitRemaining(n int) {
	if regOK.Load() {
		rateLimitRemaining.Set(float64(n))
	}
}

func SetLastLogTimestamp(unix float64) {
	if regOK.Load() {
		lastLogTimestamp.Set(unix)
	}
}

func IncSinkWrite(sink string, ok bool) {
	if regOK.Load() {
		sinkWrites.WithLabelValues(sink, result(ok)).Inc()
	}
}

func IncReport(kind string, ok bool) {
	if regOK.Load() {
		reportsSent.WithLabelValues(kind, result(ok)).Inc()
	}
}

func IncTick(trigger, phase string) {
	if regOK.Load() {
		ticksTotal.WithLabelValues(trigger, phase).Inc()
	}
}

func SetNextSchedule(unix float64) {
	if regOK.Load() {
		nextSchedule.Set(unix)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
