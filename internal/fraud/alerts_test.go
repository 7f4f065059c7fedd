package fraud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		score    int
		expected Severity
	}{
		{0, SeverityLow},
		{50, SeverityLow},
		{59, SeverityLow},
		{60, SeverityMedium},
		{70, SeverityMedium},
		{79, SeverityMedium},
		{80, SeverityHigh},
		{85, SeverityHigh},
		{94, SeverityHigh},
		{95, SeverityCritical},
		{96, SeverityCritical},
		{100, SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.SeverityFor(tt.score), "score %d", tt.score)
	}
}

func signalsOf(kinds ...SignalKind) []Signal {
	signals := make([]Signal, 0, len(kinds))
	for _, k := range kinds {
		signals = append(signals, Signal{Kind: k})
	}
	return signals
}

func TestClassifyAlert(t *testing.T) {
	tests := []struct {
		name     string
		activity ActivityType
		kinds    []SignalKind
		expected AlertType
	}{
		{"payment mismatch wins on payments", ActivityPayment, []SignalKind{SignalVelocity, SignalPaymentMismatch}, AlertTypePaymentMismatch},
		{"mismatch ignored outside payments", ActivityLogin, []SignalKind{SignalPaymentMismatch, SignalNewDevice}, AlertTypeDeviceChange},
		{"velocity beats travel", ActivityLogin, []SignalKind{SignalImpossibleTravel, SignalVelocity}, AlertTypeVelocityCheck},
		{"travel beats device", ActivityLogin, []SignalKind{SignalNewDevice, SignalImpossibleTravel}, AlertTypeIPChange},
		{"new device", ActivityOrderPlace, []SignalKind{SignalBlacklistedIP, SignalNewDevice}, AlertTypeDeviceChange},
		{"blacklisted device alone", ActivityLogin, []SignalKind{SignalBlacklistedDevice, SignalBlacklistedIP}, AlertTypeSuspiciousActivity},
		{"new user agent alone", ActivityLogin, []SignalKind{SignalNewUserAgent, SignalFlaggedHistory}, AlertTypeSuspiciousActivity},
		{"no signals", ActivityLogin, nil, AlertTypeSuspiciousActivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyAlert(tt.activity, signalsOf(tt.kinds...)))
		})
	}
}

func TestBuildEvaluationAlert(t *testing.T) {
	req := &EvaluationRequest{
		UserID:       42,
		ActivityType: ActivityLogin,
		IPAddress:    "192.0.2.10",
		UserAgent:    "ua",
		Location:     &Location{Country: "DE"},
		Metadata:     map[string]interface{}{"risk_score": "caller value", "channel": "web"},
	}
	assessment := &Assessment{
		Score: 75,
		Signals: []Signal{
			{Kind: SignalBlacklistedIP, Message: "IP address is blacklisted", Score: 50},
			{Kind: SignalImpossibleTravel, Message: "Impossible travel detected: US to DE in 1.0 hours", Score: 25},
		},
	}

	alert := buildEvaluationAlert(req, assessment, SeverityMedium, testNow)

	require.NotNil(t, alert.UserID)
	assert.Equal(t, int64(42), *alert.UserID)
	assert.Equal(t, AlertTypeIPChange, alert.AlertType)
	assert.Equal(t, SeverityMedium, alert.Severity)
	assert.Equal(t, 75, alert.RiskScore)
	assert.Equal(t, "IP address is blacklisted; Impossible travel detected: US to DE in 1.0 hours", alert.Description)
	assert.Equal(t, testNow, alert.CreatedAt)
	assert.False(t, alert.Resolved)

	assert.Equal(t, 75, alert.Metadata["risk_score"])
	assert.Equal(t, "web", alert.Metadata["channel"])
	assert.Equal(t, req.Location, alert.Metadata["location"])
	assert.Equal(t, []map[string]interface{}{
		{"kind": "blacklisted_ip", "score": 50},
		{"kind": "impossible_travel", "score": 25},
	}, alert.Metadata["signals"])

	assert.Equal(t, "caller value", req.Metadata["risk_score"], "request metadata must not be modified")
}
