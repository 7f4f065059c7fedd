package fraud

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const descriptionSeparator = "; "

// SeverityFor maps a score onto the severity ladder. MEDIUM is the
// fallthrough between the MEDIUM and HIGH thresholds.
func (p *Policy) SeverityFor(score int) Severity {
	switch {
	case score >= p.Thresholds.Critical:
		return SeverityCritical
	case score >= p.Thresholds.High:
		return SeverityHigh
	case score < p.Thresholds.Medium:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// ClassifyAlert picks the alert type from the strongest signal kind present.
// Priority: payment mismatch, velocity, impossible travel, new device.
func ClassifyAlert(activity ActivityType, signals []Signal) AlertType {
	kinds := make(map[SignalKind]bool, len(signals))
	for _, s := range signals {
		kinds[s.Kind] = true
	}

	switch {
	case activity == ActivityPayment && kinds[SignalPaymentMismatch]:
		return AlertTypePaymentMismatch
	case kinds[SignalVelocity]:
		return AlertTypeVelocityCheck
	case kinds[SignalImpossibleTravel]:
		return AlertTypeIPChange
	case kinds[SignalNewDevice]:
		return AlertTypeDeviceChange
	default:
		return AlertTypeSuspiciousActivity
	}
}

// buildEvaluationAlert assembles the alert for a risky evaluation
func buildEvaluationAlert(req *EvaluationRequest, assessment *Assessment, severity Severity, now time.Time) *FraudAlert {
	metadata := make(map[string]interface{}, len(req.Metadata)+8)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["activity_type"] = string(req.ActivityType)
	metadata["risk_score"] = assessment.Score
	metadata["ip_address"] = req.IPAddress
	metadata["user_agent"] = req.UserAgent
	metadata["device_fingerprint"] = req.DeviceFingerprint
	metadata["session_id"] = req.SessionID
	if req.Location != nil {
		metadata["location"] = req.Location
	}

	signals := make([]map[string]interface{}, 0, len(assessment.Signals))
	for _, s := range assessment.Signals {
		signals = append(signals, map[string]interface{}{"kind": string(s.Kind), "score": s.Score})
	}
	metadata["signals"] = signals

	userID := req.UserID
	return &FraudAlert{
		ID:          uuid.New(),
		UserID:      &userID,
		AlertType:   ClassifyAlert(req.ActivityType, assessment.Signals),
		Severity:    severity,
		Description: strings.Join(assessment.Messages(), descriptionSeparator),
		Metadata:    metadata,
		RiskScore:   assessment.Score,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
