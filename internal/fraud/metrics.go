package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	decisionAllow = "allow"
	decisionFlag  = "flag"
	decisionBlock = "block"
)

var (
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_evaluations_total",
			Help: "Total number of risk evaluations by activity type and decision",
		},
		[]string{"activity_type", "decision"},
	)

	riskScoreHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraud_risk_score",
			Help:    "Distribution of composite risk scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
		},
	)

	detectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_detector_errors_total",
			Help: "Total number of detector failures",
		},
		[]string{"detector"},
	)

	alertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_alerts_created_total",
			Help: "Total number of fraud alerts written",
		},
		[]string{"alert_type", "severity"},
	)
)

func decisionLabel(risky, block bool) string {
	switch {
	case block:
		return decisionBlock
	case risky:
		return decisionFlag
	default:
		return decisionAllow
	}
}

func recordEvaluation(activity ActivityType, result *EvaluationResult) {
	evaluationsTotal.WithLabelValues(string(activity), decisionLabel(result.IsRisky, result.ShouldBlock)).Inc()
	riskScoreHistogram.Observe(float64(result.RiskScore))
}

func recordAlert(alert *FraudAlert) {
	alertsCreatedTotal.WithLabelValues(string(alert.AlertType), string(alert.Severity)).Inc()
}
