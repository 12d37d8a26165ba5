// Package metrics exposes Prometheus counters for settlement activity and a
// small standalone listener serving /metrics and /healthz.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settled_commands_total",
			Help: "Settlement commands by name and outcome",
		},
		[]string{"command", "status"},
	)

	stakeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settled_stake_units_total",
			Help: "Total units escrowed by accepted bets",
		},
	)

	payoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settled_payout_units_total",
			Help: "Total units paid out to claimed winning bets",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settled_http_requests_total",
			Help: "HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(commandsTotal, stakeTotal, payoutTotal, httpRequests)
}

// ObserveCommand counts one settlement command execution.
func ObserveCommand(command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	commandsTotal.WithLabelValues(command, status).Inc()
}

// ObserveStake adds an accepted bet's amount to the escrow counter.
func ObserveStake(amount int64) {
	stakeTotal.Add(float64(amount))
}

// ObservePayout adds a settled claim's payout to the payout counter.
func ObservePayout(amount int64) {
	payoutTotal.Add(float64(amount))
}

// ObserveHTTPRequest counts one served HTTP request.
func ObserveHTTPRequest(method, route, status string) {
	httpRequests.WithLabelValues(method, route, status).Inc()
}
