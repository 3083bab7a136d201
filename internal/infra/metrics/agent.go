package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(agentRequestsTotal) }

var agentRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_requests_total",
		Help: "HTTP requests sent to the automation agent, labeled by response code (0 = network error).",
	},
	[]string{"provider", "op", "code"}, // op="start"|"otp"|"status"|"health"
)

func IncAgentRequest(provider, op string, code int) {
	agentRequestsTotal.WithLabelValues(norm(provider), norm(op), strconv.Itoa(code)).Inc()
}
