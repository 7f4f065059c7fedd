package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlertAlreadyResolved is returned when resolving an alert a second time
var ErrAlertAlreadyResolved = errors.New("fraud alert already resolved")

// ActivityStore persists the append-only activity log
type ActivityStore interface {
	CreateActivity(ctx context.Context, record *ActivityRecord) error
	CountActivities(ctx context.Context, userID int64, activityType ActivityType, since time.Time) (int, error)
	LatestLocatedActivity(ctx context.Context, userID int64) (*ActivityRecord, error)
	RecentActivities(ctx context.Context, userID int64, limit int) ([]*ActivityRecord, error)
	CountFlaggedActivities(ctx context.Context, userID int64, since time.Time) (int, error)
}

// BlacklistStore persists banned identifiers
type BlacklistStore interface {
	CreateBlacklistEntry(ctx context.Context, entry *BlacklistEntry) error
	FindActiveBlacklistEntry(ctx context.Context, entityType EntityType, value string, now time.Time) (*BlacklistEntry, error)
	ListBlacklistEntries(ctx context.Context, filter BlacklistFilter, limit, offset int) ([]*BlacklistEntry, int64, error)
	DeactivateBlacklistEntry(ctx context.Context, id uuid.UUID) error
}

// AlertStore persists fraud alerts
type AlertStore interface {
	CreateFraudAlert(ctx context.Context, alert *FraudAlert) error
	GetFraudAlertByID(ctx context.Context, id uuid.UUID) (*FraudAlert, error)
	ListFraudAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*FraudAlert, int64, error)
	ResolveFraudAlert(ctx context.Context, id uuid.UUID, resolvedBy int64, resolution string, resolvedAt time.Time) error
	GetAlertStatistics(ctx context.Context, from, to time.Time) (*AlertStatistics, error)
}

// Store is everything the engine needs from persistence
type Store interface {
	ActivityStore
	BlacklistStore
	AlertStore
}

// VelocityCounter counts a user's recent actions of one type. Count returns
// how many actions were seen in the trailing window before this one and may
// hold the current action under attemptID. Release drops that hold when the
// action is never written to the activity log.
type VelocityCounter interface {
	Count(ctx context.Context, userID int64, activityType ActivityType, window time.Duration, now time.Time, attemptID uuid.UUID) (int, error)
	Release(ctx context.Context, userID int64, activityType ActivityType, attemptID uuid.UUID) error
}

// AlertPublisher announces new alerts to other services
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *FraudAlert) error
}

// Clock returns the current time
type Clock func() time.Time
