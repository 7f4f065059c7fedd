package fraud

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType is the kind of user action being evaluated
type ActivityType string

const (
	ActivityLogin          ActivityType = "LOGIN"
	ActivityPayment        ActivityType = "PAYMENT"
	ActivityOrderPlace     ActivityType = "ORDER_PLACE"
	ActivityProfileUpdate  ActivityType = "PROFILE_UPDATE"
	ActivityPasswordChange ActivityType = "PASSWORD_CHANGE"
	ActivityWithdrawal     ActivityType = "WITHDRAWAL"
	ActivityRefund         ActivityType = "REFUND"
)

// Valid reports whether a is one of the known activity types
func (a ActivityType) Valid() bool {
	switch a {
	case ActivityLogin, ActivityPayment, ActivityOrderPlace, ActivityProfileUpdate,
		ActivityPasswordChange, ActivityWithdrawal, ActivityRefund:
		return true
	}
	return false
}

// AlertType represents the category of a fraud alert
type AlertType string

const (
	AlertTypePaymentMismatch    AlertType = "PAYMENT_MISMATCH"
	AlertTypeSuspiciousActivity AlertType = "SUSPICIOUS_ACTIVITY"
	AlertTypeVelocityCheck      AlertType = "VELOCITY_CHECK"
	AlertTypeIPChange           AlertType = "IP_CHANGE"
	AlertTypeDeviceChange       AlertType = "DEVICE_CHANGE"
	AlertTypeUnusualTransaction AlertType = "UNUSUAL_TRANSACTION"
)

// Severity represents how serious an alert is
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// EntityType is the kind of identifier a blacklist entry bans
type EntityType string

const (
	EntityEmail       EntityType = "EMAIL"
	EntityPhone       EntityType = "PHONE"
	EntityIP          EntityType = "IP"
	EntityDevice      EntityType = "DEVICE"
	EntityBankAccount EntityType = "BANK_ACCOUNT"
)

// Valid reports whether e is a known entity type
func (e EntityType) Valid() bool {
	switch e {
	case EntityEmail, EntityPhone, EntityIP, EntityDevice, EntityBankAccount:
		return true
	}
	return false
}

// Location is the geographic origin of a request. Coordinates are optional.
type Location struct {
	Country string   `json:"country"`
	City    string   `json:"city,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

// ActivityRecord is the audit entry written once per evaluation
type ActivityRecord struct {
	ID                uuid.UUID              `json:"id"`
	UserID            int64                  `json:"user_id"`
	ActivityType      ActivityType           `json:"activity_type"`
	Timestamp         time.Time              `json:"timestamp"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	Location          *Location              `json:"location,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	RiskScore         int                    `json:"risk_score"`
	Flagged           bool                   `json:"flagged"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// FraudAlert represents a fraud detection alert awaiting review
type FraudAlert struct {
	ID          uuid.UUID              `json:"id"`
	UserID      *int64                 `json:"user_id,omitempty"`
	AlertType   AlertType              `json:"alert_type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
	RiskScore   int                    `json:"risk_score"`
	Resolved    bool                   `json:"resolved"`
	ResolvedBy  *int64                 `json:"resolved_by,omitempty"`
	Resolution  string                 `json:"resolution,omitempty"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// BlacklistEntry bans one identifier until it expires or is deactivated
type BlacklistEntry struct {
	ID          uuid.UUID  `json:"id"`
	EntityType  EntityType `json:"entity_type"`
	EntityValue string     `json:"entity_value"`
	Reason      string     `json:"reason"`
	AddedBy     string     `json:"added_by"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the entry bans its value at now
func (e *BlacklistEntry) ActiveAt(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// EvaluationRequest describes one user action to score
type EvaluationRequest struct {
	UserID            int64                  `json:"user_id"`
	ActivityType      ActivityType           `json:"activity_type"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	Location          *Location              `json:"location,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`

	// ActivityID is assigned by Evaluate and becomes the id of the logged record
	ActivityID uuid.UUID `json:"-"`
}

// EvaluationResult is the decision returned to the caller
type EvaluationResult struct {
	IsRisky           bool       `json:"is_risky"`
	RiskScore         int        `json:"risk_score"`
	Alerts            []string   `json:"alerts"`
	ShouldBlock       bool       `json:"should_block"`
	Severity          Severity   `json:"severity"`
	Signals           []Signal   `json:"signals,omitempty"`
	DegradedDetectors []string   `json:"degraded_detectors,omitempty"`
	ActivityID        uuid.UUID  `json:"activity_id"`
	AlertID           *uuid.UUID `json:"alert_id,omitempty"`
}

// AlertFilter narrows alert listings. Zero fields do not filter.
type AlertFilter struct {
	Resolved *bool
	Severity Severity
	UserID   *int64
}

// BlacklistFilter narrows blacklist listings
type BlacklistFilter struct {
	EntityType EntityType
	ActiveOnly bool
}

// AlertStatistics summarises alerts raised in a period
type AlertStatistics struct {
	Period           string  `json:"period"`
	TotalAlerts      int64   `json:"total_alerts"`
	CriticalAlerts   int64   `json:"critical_alerts"`
	HighAlerts       int64   `json:"high_alerts"`
	MediumAlerts     int64   `json:"medium_alerts"`
	LowAlerts        int64   `json:"low_alerts"`
	ResolvedAlerts   int64   `json:"resolved_alerts"`
	UnresolvedAlerts int64   `json:"unresolved_alerts"`
	AverageRiskScore float64 `json:"average_risk_score"`
}

// PaymentMismatchResult is returned by the payment reconciliation check
type PaymentMismatchResult struct {
	AlertCreated bool        `json:"alert_created"`
	Alert        *FraudAlert `json:"alert,omitempty"`
}
