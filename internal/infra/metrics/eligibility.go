package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(sessionsStarted, sessionsFinished, pollAttempts, transientErrors, completionDuration, activePollers, filesSwept)
}

var (
	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_sessions_started_total",
			Help: "Agent sessions started, per provider.",
		},
		[]string{"provider"},
	)

	sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_sessions_finished_total",
			Help: "Sessions whose poller stopped, per provider and outcome.",
		},
		[]string{"provider", "outcome"}, // completed|error|not_found|timeout|no_progress|transient|cancelled
	)

	pollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_poll_attempts_total",
			Help: "Status polls issued, labeled by the agent status returned.",
		},
		[]string{"provider", "status"},
	)

	transientErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_transient_errors_total",
			Help: "Status polls that failed with a transient error.",
		},
		[]string{"provider"},
	)

	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eligibility_completion_duration_seconds",
			Help:    "Completion pipeline latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	filesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eligibility_download_files_swept_total",
			Help: "Stale agent artifacts removed from the download directory.",
		},
	)

	activePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eligibility_active_pollers",
			Help: "Pollers currently running in this process.",
		},
	)
)

func IncSessionStarted(provider string) {
	sessionsStarted.WithLabelValues(norm(provider)).Inc()
}

func IncSessionFinished(provider, outcome string) {
	sessionsFinished.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func IncPollAttempt(provider, status string) {
	if status == "" {
		status = "in_progress"
	}
	pollAttempts.WithLabelValues(norm(provider), norm(status)).Inc()
}

func IncTransientError(provider string) {
	transientErrors.WithLabelValues(norm(provider)).Inc()
}

func ObserveCompletion(provider string, d time.Duration) {
	completionDuration.WithLabelValues(norm(provider)).Observe(d.Seconds())
}

func SetActivePollers(n int) {
	activePollers.Set(float64(n))
}

func AddFilesSwept(n int) {
	filesSwept.Add(float64(n))
}
