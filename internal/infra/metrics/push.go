package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pushEventsTotal, pushConnections) }

var (
	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_events_total",
			Help: "Push events emitted to clients.",
		},
		[]string{"event", "result"}, // result="sent"|"dropped"|"no_connection"
	)

	pushConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connections",
			Help: "Open push channel connections.",
		},
	)
)

func IncPushEvent(event, result string) {
	pushEventsTotal.WithLabelValues(norm(event), norm(result)).Inc()
}

func SetPushConnections(n int) {
	pushConnections.Set(float64(n))
}
