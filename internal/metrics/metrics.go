package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fueltheft"

var (
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Feed polls by outcome (ok, error, version_mismatch).",
	}, []string{"outcome"})

	PollSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_skipped_total",
		Help:      "Ticks skipped because the previous poll was still in flight.",
	})

	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Wall time of one fetch-and-pipeline pass.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	CursorResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cursor_resets_total",
		Help:      "Feed cursor resets triggered by version mismatch.",
	})

	ReadingsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_processed_total",
		Help:      "Fuel readings run through the detection pipeline.",
	}, []string{"mode"})

	DropsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drops_detected_total",
		Help:      "Drop events found by the detector before verification.",
	}, []string{"mode"})

	AlertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_emitted_total",
		Help:      "Alerts accepted and handed to the sink.",
	}, []string{"mode", "severity"})

	AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Drop events not alerted, by reason (moving, cooldown).",
	}, []string{"reason"})

	VerifierFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifier_fail_open_total",
		Help:      "Stationary checks that failed and were treated as stationary.",
	})

	AlertPersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_persist_failures_total",
		Help:      "Alerts that could not be stored after a retry.",
	})

	NotifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_failures_total",
		Help:      "Failed alert deliveries by publisher.",
	}, []string{"publisher"})

	NotifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_dropped_total",
		Help:      "Stored alerts not broadcast because the queue was full.",
	})

	PollerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poller_state",
		Help:      "1 for the poller's current lifecycle state, 0 otherwise.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		PollSkipped,
		PollDuration,
		CursorResets,
		ReadingsProcessed,
		DropsDetected,
		AlertsEmitted,
		AlertsSuppressed,
		VerifierFailOpen,
		AlertPersistFailures,
		NotifyFailures,
		NotifyDropped,
		PollerState,
	)
}

// SetPollerState marks state as current among states.
func SetPollerState(current string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		PollerState.WithLabelValues(s).Set(v)
	}
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
