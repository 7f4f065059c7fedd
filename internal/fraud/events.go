package fraud

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/eventbus"
	"github.com/richxcame/risk-engine/pkg/logger"
	"go.uber.org/zap"
)

// Subjects and event types exchanged with other services
const (
	SubjectAlertCreated       = "fraud.alert.created"
	SubjectBlacklistRequested = "fraud.blacklist.requested"

	blacklistConsumer = "risk-engine-blacklist"
)

// AlertCreatedData is the payload of fraud.alert.created
type AlertCreatedData struct {
	AlertID     string    `json:"alert_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	AlertType   AlertType `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	RiskScore   int       `json:"risk_score"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlacklistRequestedData is the payload of fraud.blacklist.requested
type BlacklistRequestedData struct {
	EntityType  EntityType `json:"entity_type"`
	EntityValue string     `json:"entity_value"`
	Reason      string     `json:"reason"`
	AddedBy     string     `json:"added_by"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type eventPublisher interface {
	Publish(ctx context.Context, subject, eventType string, data interface{}) error
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, subject, durable string, handler eventbus.Handler) error
}

// BusAlertPublisher publishes alerts on the event bus
type BusAlertPublisher struct {
	bus eventPublisher
}

// NewBusAlertPublisher creates an AlertPublisher backed by bus
func NewBusAlertPublisher(bus eventPublisher) *BusAlertPublisher {
	return &BusAlertPublisher{bus: bus}
}

// PublishAlert sends alert on fraud.alert.created
func (p *BusAlertPublisher) PublishAlert(ctx context.Context, alert *FraudAlert) error {
	return p.bus.Publish(ctx, SubjectAlertCreated, SubjectAlertCreated, AlertCreatedData{
		AlertID:     alert.ID.String(),
		UserID:      alert.UserID,
		AlertType:   alert.AlertType,
		Severity:    alert.Severity,
		RiskScore:   alert.RiskScore,
		Description: alert.Description,
		CreatedAt:   alert.CreatedAt,
	})
}

type blacklister interface {
	AddToBlacklist(ctx context.Context, entityType EntityType, entityValue, reason, addedBy string, expiresAt *time.Time) (*BlacklistEntry, error)
}

// HandleBlacklistRequested applies blacklist requests sent by other services.
// Payloads that can never succeed are dropped so they are not redelivered.
func HandleBlacklistRequested(svc blacklister) eventbus.Handler {
	return func(ctx context.Context, event *eventbus.Event) error {
		var data BlacklistRequestedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.WithContext(ctx).Error("dropping malformed blacklist request",
				zap.String("event_id", event.ID), zap.Error(err))
			return nil
		}

		addedBy := data.AddedBy
		if addedBy == "" {
			addedBy = event.Source
		}

		_, err := svc.AddToBlacklist(ctx, data.EntityType, data.EntityValue, data.Reason, addedBy, data.ExpiresAt)
		if err != nil {
			if appErr, ok := common.AsAppError(err); ok && appErr.Code < 500 {
				logger.WithContext(ctx).Error("dropping invalid blacklist request",
					zap.String("event_id", event.ID),
					zap.String("source", event.Source),
					zap.Error(err))
				return nil
			}
			return err
		}
		return nil
	}
}

// RegisterSubscriptions attaches the service's consumers to the bus
func RegisterSubscriptions(ctx context.Context, bus eventSubscriber, svc blacklister) error {
	return bus.Subscribe(ctx, SubjectBlacklistRequested, blacklistConsumer, HandleBlacklistRequested(svc))
}
