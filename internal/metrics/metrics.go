// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts counts register, login and whoami calls by outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentals_auth_attempts_total",
		Help: "Authentication operations by operation and outcome.",
	}, []string{"op", "outcome"})

	// Mutations counts rental create and update calls by outcome.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentals_mutations_total",
		Help: "Rental mutations by operation and outcome.",
	}, []string{"op", "outcome"})
)

func RecordAuth(op, outcome string) {
	AuthAttempts.WithLabelValues(op, outcome).Inc()
}

func RecordMutation(op, outcome string) {
	Mutations.WithLabelValues(op, outcome).Inc()
}
