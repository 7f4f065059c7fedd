package resilience

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Outcomes recorded for every call made through a breaker
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

var (
	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "risk_engine",
		Subsystem: "breaker",
		Name:      "calls_total",
		Help:      "Calls made through a circuit breaker by outcome",
	}, []string{"breaker", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "risk_engine",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "risk_engine",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions",
	}, []string{"breaker", "from", "to"})

	unnamedBreakers atomic.Uint64
)

// breakerName falls back to a generated label so unnamed breakers do not
// share a series.
func breakerName(name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("breaker-%d", unnamedBreakers.Add(1))
}

// gobreaker numbers its states closed, half-open, open
func observeState(name string, state gobreaker.State) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

func observeTransition(name string, from, to gobreaker.State) {
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	observeState(name, to)
}

func observeCall(name, outcome string) {
	breakerCalls.WithLabelValues(name, outcome).Inc()
}
