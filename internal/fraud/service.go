package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/logger"
	"github.com/richxcame/risk-engine/pkg/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// releaseTimeout bounds the cleanup of a velocity attempt after a failure
const releaseTimeout = 2 * time.Second

// Service handles risk evaluation, blacklist management and alert review
type Service struct {
	store     Store
	counter   VelocityCounter
	policy    *Policy
	scorer    *Scorer
	publisher AlertPublisher
	now       Clock
}

// Option configures a Service
type Option func(*Service)

// WithPublisher announces every new alert through p
func WithPublisher(p AlertPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source
func WithClock(c Clock) Option {
	return func(s *Service) { s.now = c }
}

// NewService creates a new fraud service. A nil counter falls back to
// counting the activity log.
func NewService(store Store, counter VelocityCounter, policy *Policy, opts ...Option) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if counter == nil {
		counter = NewLogVelocityCounter(store)
	}

	s := &Service{
		store:   store,
		counter: counter,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scorer = NewScorer(policy,
		NewBlacklistChecker(store, policy),
		NewVelocityLimiter(counter, policy),
		NewLocationDetector(store, policy),
		NewDeviceDetector(store, policy),
		NewHistoryChecker(store, policy),
	)
	return s
}

// Policy returns the policy the service was built with
func (s *Service) Policy() *Policy {
	return s.policy
}

// Evaluate scores one user action, records it in the activity log and
// raises an alert when the score is risky.
func (s *Service) Evaluate(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error) {
	if err := validateEvaluationRequest(req); err != nil {
		return nil, err
	}

	evalReq := *req
	evalReq.ActivityID = uuid.New()
	req = &evalReq

	ctx, span := tracing.StartSpan(ctx, "fraud.Evaluate",
		attribute.Int64("user.id", req.UserID),
		attribute.String("activity.type", string(req.ActivityType)),
	)
	defer span.End()

	now := s.now().UTC()
	assessment, err := s.scorer.Score(ctx, req, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		s.releaseAttempt(ctx, req)
		return nil, fmt.Errorf("scoring activity: %w", err)
	}

	score := assessment.Score
	result := &EvaluationResult{
		IsRisky:           s.policy.IsRisky(score),
		RiskScore:         score,
		Alerts:            assessment.Messages(),
		ShouldBlock:       s.policy.ShouldBlock(score),
		Severity:          s.policy.SeverityFor(score),
		Signals:           assessment.Signals,
		DegradedDetectors: assessment.Degraded,
	}

	record := &ActivityRecord{
		ID:                req.ActivityID,
		UserID:            req.UserID,
		ActivityType:      req.ActivityType,
		Timestamp:         now,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
		SessionID:         req.SessionID,
		RiskScore:         score,
		Flagged:           result.IsRisky,
		Metadata:          req.Metadata,
	}
	if err := s.store.CreateActivity(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activity log write failed")
		s.releaseAttempt(ctx, req)
		return nil, fmt.Errorf("logging activity: %w", err)
	}
	result.ActivityID = record.ID

	if result.IsRisky {
		alert := buildEvaluationAlert(req, assessment, result.Severity, now)
		if err := s.store.CreateFraudAlert(ctx, alert); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "alert write failed")
			return nil, fmt.Errorf("creating fraud alert: %w", err)
		}
		recordAlert(alert)
		s.publishAlert(ctx, alert)
		result.AlertID = &alert.ID
	}

	recordEvaluation(req.ActivityType, result)
	decision := decisionLabel(result.IsRisky, result.ShouldBlock)
	span.SetAttributes(
		attribute.Int("risk.score", score),
		attribute.String("risk.decision", decision),
		attribute.Int("risk.signals", len(assessment.Signals)),
	)

	fields := []zap.Field{
		zap.Int64("user_id", req.UserID),
		zap.String("activity_type", string(req.ActivityType)),
		zap.Int("risk_score", score),
		zap.String("decision", decision),
	}
	if result.IsRisky {
		logger.WithContext(ctx).Info("risky activity detected", append(fields, zap.Strings("alerts", result.Alerts))...)
	} else {
		logger.WithContext(ctx).Debug("activity evaluated", fields...)
	}

	return result, nil
}

// releaseAttempt takes an attempt that never reached the activity log out
// of the velocity window.
func (s *Service) releaseAttempt(ctx context.Context, req *EvaluationRequest) {
	if _, ok := s.policy.VelocityRuleFor(req.ActivityType); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.counter.Release(ctx, req.UserID, req.ActivityType, req.ActivityID); err != nil {
		logger.WithContext(ctx).Warn("failed to release velocity attempt",
			zap.Int64("user_id", req.UserID),
			zap.String("activity_type", string(req.ActivityType)),
			zap.String("activity_id", req.ActivityID.String()),
			zap.Error(err))
	}
}

func validateEvaluationRequest(req *EvaluationRequest) error {
	if req == nil {
		return common.NewBadRequestError("evaluation request is required", nil)
	}
	if req.UserID <= 0 {
		return common.NewBadRequestError("user_id must be positive", nil)
	}
	if !req.ActivityType.Valid() {
		return common.NewBadRequestError(fmt.Sprintf("unknown activity type %q", req.ActivityType), nil)
	}
	if req.Location != nil && strings.TrimSpace(req.Location.Country) == "" {
		return common.NewBadRequestError("location.country is required when location is given", nil)
	}
	return nil
}

// AddToBlacklist bans an identifier. Entries are never deduplicated.
func (s *Service) AddToBlacklist(ctx context.Context, entityType EntityType, entityValue, reason, addedBy string, expiresAt *time.Time) (*BlacklistEntry, error) {
	if !entityType.Valid() {
		return nil, common.NewBadRequestError(fmt.Sprintf("unknown entity type %q", entityType), nil)
	}
	entityValue = strings.TrimSpace(entityValue)
	if entityValue == "" {
		return nil, common.NewBadRequestError("entity_value is required", nil)
	}

	now := s.now().UTC()
	entry := &BlacklistEntry{
		ID:          uuid.New(),
		EntityType:  entityType,
		EntityValue: entityValue,
		Reason:      reason,
		AddedBy:     addedBy,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateBlacklistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("creating blacklist entry: %w", err)
	}

	logger.WithContext(ctx).Info("entity blacklisted",
		zap.String("entity_type", string(entityType)),
		zap.String("entry_id", entry.ID.String()),
		zap.String("added_by", addedBy))
	return entry, nil
}

// ListBlacklist returns blacklist entries with the total matching count
func (s *Service) ListBlacklist(ctx context.Context, filter BlacklistFilter, limit, offset int) ([]*BlacklistEntry, int64, error) {
	if filter.EntityType != "" && !filter.EntityType.Valid() {
		return nil, 0, common.NewBadRequestError(fmt.Sprintf("unknown entity type %q", filter.EntityType), nil)
	}
	entries, total, err := s.store.ListBlacklistEntries(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing blacklist entries: %w", err)
	}
	return entries, total, nil
}

// DeactivateBlacklistEntry lifts a ban without deleting its history
func (s *Service) DeactivateBlacklistEntry(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeactivateBlacklistEntry(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFoundError("blacklist entry not found", err)
		}
		return fmt.Errorf("deactivating blacklist entry: %w", err)
	}
	logger.WithContext(ctx).Info("blacklist entry deactivated", zap.String("entry_id", id.String()))
	return nil
}

// CheckPaymentMismatch compares the amount a payment should have captured
// with what was captured and raises a HIGH alert when they differ by more
// than the policy tolerance. It does not touch the activity log.
func (s *Service) CheckPaymentMismatch(ctx context.Context, userID int64, expected, actual decimal.Decimal, paymentMethod string, metadata map[string]interface{}) (*PaymentMismatchResult, error) {
	diff := expected.Sub(actual).Abs()
	if diff.LessThanOrEqual(decimal.NewFromFloat(s.policy.MismatchTolerance)) {
		return &PaymentMismatchResult{AlertCreated: false}, nil
	}

	meta := make(map[string]interface{}, len(metadata)+4)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["expected_amount"] = expected.String()
	meta["actual_amount"] = actual.String()
	meta["difference"] = diff.String()
	meta["payment_method"] = paymentMethod

	now := s.now().UTC()
	alert := &FraudAlert{
		ID:        uuid.New(),
		AlertType: AlertTypePaymentMismatch,
		Severity:  SeverityHigh,
		Description: fmt.Sprintf("Payment amount mismatch: expected %s, received %s",
			expected.StringFixed(2), actual.StringFixed(2)),
		Metadata:  meta,
		RiskScore: s.policy.MismatchScore,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID > 0 {
		alert.UserID = &userID
	}

	if err := s.store.CreateFraudAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("creating payment mismatch alert: %w", err)
	}
	recordAlert(alert)
	s.publishAlert(ctx, alert)

	logger.WithContext(ctx).Warn("payment amount mismatch",
		zap.Int64("user_id", userID),
		zap.String("difference", diff.String()),
		zap.String("alert_id", alert.ID.String()))

	return &PaymentMismatchResult{AlertCreated: true, Alert: alert}, nil
}

// ListAlerts returns alerts matching filter with the total matching count
func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*FraudAlert, int64, error) {
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, 0, common.NewBadRequestError(fmt.Sprintf("unknown severity %q", filter.Severity), nil)
	}
	alerts, total, err := s.store.ListFraudAlerts(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing fraud alerts: %w", err)
	}
	return alerts, total, nil
}

// GetAlert retrieves a single alert
func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error) {
	alert, err := s.store.GetFraudAlertByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("fraud alert not found", err)
		}
		return nil, fmt.Errorf("getting fraud alert: %w", err)
	}
	return alert, nil
}

// ResolveAlert closes an alert. An alert can be resolved only once.
func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy int64, resolution string) (*FraudAlert, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, common.NewBadRequestError("resolution is required", nil)
	}

	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved {
		return nil, common.NewConflictError("fraud alert already resolved")
	}

	now := s.now().UTC()
	if err := s.store.ResolveFraudAlert(ctx, id, resolvedBy, resolution, now); err != nil {
		switch {
		case errors.Is(err, ErrAlertAlreadyResolved):
			return nil, common.NewConflictError("fraud alert already resolved")
		case errors.Is(err, pgx.ErrNoRows):
			return nil, common.NewNotFoundError("fraud alert not found", err)
		}
		return nil, fmt.Errorf("resolving fraud alert: %w", err)
	}

	alert.Resolved = true
	alert.ResolvedBy = &resolvedBy
	alert.Resolution = resolution
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	logger.WithContext(ctx).Info("fraud alert resolved",
		zap.String("alert_id", id.String()),
		zap.Int64("resolved_by", resolvedBy))
	return alert, nil
}

// AlertStatistics summarises alerts created between from and to
func (s *Service) AlertStatistics(ctx context.Context, from, to time.Time) (*AlertStatistics, error) {
	if to.Before(from) {
		return nil, common.NewBadRequestError("end date must not be before start date", nil)
	}
	stats, err := s.store.GetAlertStatistics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("getting alert statistics: %w", err)
	}
	return stats, nil
}

func (s *Service) publishAlert(ctx context.Context, alert *FraudAlert) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		logger.WithContext(ctx).Warn("failed to publish fraud alert",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err))
	}
}
