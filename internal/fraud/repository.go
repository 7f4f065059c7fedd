package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles fraud detection data operations
type Repository struct {
	db *pgxpool.Pool
}

// Ensure the concrete repository satisfies the service's requirements.
var _ Store = (*Repository)(nil)

// NewRepository creates a new fraud repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const activityColumns = `id, user_id, activity_type, occurred_at, ip_address, user_agent,
		       device_fingerprint, location, session_id, risk_score, flagged, metadata`

// CreateActivity appends a record to the activity log
func (r *Repository) CreateActivity(ctx context.Context, record *ActivityRecord) error {
	var locationJSON interface{}
	if record.Location != nil {
		raw, err := json.Marshal(record.Location)
		if err != nil {
			return fmt.Errorf("marshal location: %w", err)
		}
		locationJSON = raw
	}

	metadataJSON, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO activity_logs (
			id, user_id, activity_type, occurred_at, ip_address, user_agent,
			device_fingerprint, location, session_id, risk_score, flagged, metadata
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12)
	`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.ActivityType,
		record.Timestamp,
		record.IPAddress,
		record.UserAgent,
		record.DeviceFingerprint,
		locationJSON,
		record.SessionID,
		record.RiskScore,
		record.Flagged,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// CountActivities counts a user's records of one type since the given time
func (r *Repository) CountActivities(ctx context.Context, userID int64, activityType ActivityType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM activity_logs
		WHERE user_id = $1 AND activity_type = $2 AND occurred_at >= $3
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, activityType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return count, nil
}

// LatestLocatedActivity returns the user's most recent record carrying a
// location with a country, or nil when there is none.
func (r *Repository) LatestLocatedActivity(ctx context.Context, userID int64) (*ActivityRecord, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM activity_logs
		WHERE user_id = $1 AND location IS NOT NULL AND COALESCE(location->>'country', '') <> ''
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	record, err := scanActivity(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest located activity: %w", err)
	}
	return record, nil
}

// RecentActivities returns the user's newest records, newest first
func (r *Repository) RecentActivities(ctx context.Context, userID int64, limit int) ([]*ActivityRecord, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	defer rows.Close()

	records := make([]*ActivityRecord, 0, limit)
	for rows.Next() {
		record, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	return records, nil
}

// CountFlaggedActivities counts a user's flagged records since the given time
func (r *Repository) CountFlaggedActivities(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM activity_logs
		WHERE user_id = $1 AND flagged = TRUE AND occurred_at >= $2
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count flagged activities: %w", err)
	}
	return count, nil
}

func scanActivity(row rowScanner) (*ActivityRecord, error) {
	var record ActivityRecord
	var ipAddress, userAgent, fingerprint, sessionID sql.NullString
	var locationJSON, metadataJSON []byte

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.ActivityType,
		&record.Timestamp,
		&ipAddress,
		&userAgent,
		&fingerprint,
		&locationJSON,
		&sessionID,
		&record.RiskScore,
		&record.Flagged,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String
	record.DeviceFingerprint = fingerprint.String
	record.SessionID = sessionID.String

	if len(locationJSON) > 0 {
		var loc Location
		if err := json.Unmarshal(locationJSON, &loc); err == nil {
			record.Location = &loc
		}
	}
	if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
		record.Metadata = make(map[string]interface{})
	}

	return &record, nil
}

const blacklistColumns = `id, entity_type, entity_value, reason, added_by, is_active, expires_at, created_at, updated_at`

// CreateBlacklistEntry inserts a new ban
func (r *Repository) CreateBlacklistEntry(ctx context.Context, entry *BlacklistEntry) error {
	query := `
		INSERT INTO blacklist_entries (
			id, entity_type, entity_value, reason, added_by, is_active, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.EntityType,
		entry.EntityValue,
		entry.Reason,
		entry.AddedBy,
		entry.IsActive,
		entry.ExpiresAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

// FindActiveBlacklistEntry returns the newest entry banning value at now,
// or nil when the value is not banned.
func (r *Repository) FindActiveBlacklistEntry(ctx context.Context, entityType EntityType, value string, now time.Time) (*BlacklistEntry, error) {
	query := `
		SELECT ` + blacklistColumns + `
		FROM blacklist_entries
		WHERE entity_type = $1 AND entity_value = $2 AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry, err := scanBlacklistEntry(r.db.QueryRow(ctx, query, entityType, value, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find blacklist entry: %w", err)
	}
	return entry, nil
}

// ListBlacklistEntries returns a page of entries and the total matching count
func (r *Repository) ListBlacklistEntries(ctx context.Context, filter BlacklistFilter, limit, offset int) ([]*BlacklistEntry, int64, error) {
	var where conditions
	if filter.EntityType != "" {
		where.add("entity_type = $%d", filter.EntityType)
	}
	if filter.ActiveOnly {
		where.add("is_active = TRUE AND (expires_at IS NULL OR expires_at > $%d)", time.Now().UTC())
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM blacklist_entries` + where.sql()
	if err := r.db.QueryRow(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count blacklist entries: %w", err)
	}

	query := `SELECT ` + blacklistColumns + ` FROM blacklist_entries` + where.sql() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(where.args)+1, len(where.args)+2)
	rows, err := r.db.Query(ctx, query, append(where.args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list blacklist entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*BlacklistEntry, 0)
	for rows.Next() {
		entry, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan blacklist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list blacklist entries: %w", err)
	}
	return entries, total, nil
}

// DeactivateBlacklistEntry clears is_active. It returns pgx.ErrNoRows when
// the entry does not exist.
func (r *Repository) DeactivateBlacklistEntry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE blacklist_entries
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate blacklist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanBlacklistEntry(row rowScanner) (*BlacklistEntry, error) {
	var entry BlacklistEntry
	var expiresAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.EntityType,
		&entry.EntityValue,
		&entry.Reason,
		&entry.AddedBy,
		&entry.IsActive,
		&expiresAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		entry.ExpiresAt = &expiresAt.Time
	}
	return &entry, nil
}

const alertColumns = `id, user_id, alert_type, severity, description, metadata, risk_score,
		       resolved, resolved_by, resolution, resolved_at, created_at, updated_at`

// CreateFraudAlert creates a new fraud alert
func (r *Repository) CreateFraudAlert(ctx context.Context, alert *FraudAlert) error {
	metadataJSON, err := marshalMetadata(alert.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_alerts (
			id, user_id, alert_type, severity, description, metadata,
			risk_score, resolved, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Exec(ctx, query,
		alert.ID,
		alert.UserID,
		alert.AlertType,
		alert.Severity,
		alert.Description,
		metadataJSON,
		alert.RiskScore,
		alert.Resolved,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fraud alert: %w", err)
	}
	return nil
}

// GetFraudAlertByID retrieves a fraud alert by ID
func (r *Repository) GetFraudAlertByID(ctx context.Context, id uuid.UUID) (*FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fraud alert: %w", err)
	}
	return alert, nil
}

// ListFraudAlerts returns a page of alerts, newest first, and the total matching count
func (r *Repository) ListFraudAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*FraudAlert, int64, error) {
	var where conditions
	if filter.Resolved != nil {
		where.add("resolved = $%d", *filter.Resolved)
	}
	if filter.Severity != "" {
		where.add("severity = $%d", filter.Severity)
	}
	if filter.UserID != nil {
		where.add("user_id = $%d", *filter.UserID)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM fraud_alerts` + where.sql()
	if err := r.db.QueryRow(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count fraud alerts: %w", err)
	}

	query := `SELECT ` + alertColumns + ` FROM fraud_alerts` + where.sql() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(where.args)+1, len(where.args)+2)
	rows, err := r.db.Query(ctx, query, append(where.args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list fraud alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*FraudAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan fraud alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list fraud alerts: %w", err)
	}
	return alerts, total, nil
}

// ResolveFraudAlert marks an unresolved alert as resolved. It returns
// ErrAlertAlreadyResolved if the alert was resolved before and
// pgx.ErrNoRows if it does not exist.
func (r *Repository) ResolveFraudAlert(ctx context.Context, id uuid.UUID, resolvedBy int64, resolution string, resolvedAt time.Time) error {
	query := `
		UPDATE fraud_alerts
		SET resolved = TRUE,
		    resolved_by = $2,
		    resolution = $3,
		    resolved_at = $4,
		    updated_at = $4
		WHERE id = $1 AND resolved = FALSE
	`

	tag, err := r.db.Exec(ctx, query, id, resolvedBy, resolution, resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve fraud alert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM fraud_alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("resolve fraud alert: %w", err)
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return ErrAlertAlreadyResolved
}

// GetAlertStatistics retrieves alert statistics for a time period
func (r *Repository) GetAlertStatistics(ctx context.Context, from, to time.Time) (*AlertStatistics, error) {
	stats := &AlertStatistics{
		Period: fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02")),
	}

	query := `
		SELECT
			COUNT(*) as total_alerts,
			COUNT(CASE WHEN severity = 'CRITICAL' THEN 1 END) as critical_alerts,
			COUNT(CASE WHEN severity = 'HIGH' THEN 1 END) as high_alerts,
			COUNT(CASE WHEN severity = 'MEDIUM' THEN 1 END) as medium_alerts,
			COUNT(CASE WHEN severity = 'LOW' THEN 1 END) as low_alerts,
			COUNT(CASE WHEN resolved THEN 1 END) as resolved_alerts,
			COUNT(CASE WHEN NOT resolved THEN 1 END) as unresolved_alerts,
			COALESCE(AVG(risk_score), 0)::float8 as average_risk_score
		FROM fraud_alerts
		WHERE created_at >= $1 AND created_at <= $2
	`

	err := r.db.QueryRow(ctx, query, from, to).Scan(
		&stats.TotalAlerts,
		&stats.CriticalAlerts,
		&stats.HighAlerts,
		&stats.MediumAlerts,
		&stats.LowAlerts,
		&stats.ResolvedAlerts,
		&stats.UnresolvedAlerts,
		&stats.AverageRiskScore,
	)
	if err != nil {
		return nil, fmt.Errorf("alert statistics: %w", err)
	}

	return stats, nil
}

func scanAlert(row rowScanner) (*FraudAlert, error) {
	var alert FraudAlert
	var userID, resolvedBy sql.NullInt64
	var resolution sql.NullString
	var resolvedAt sql.NullTime
	var metadataJSON []byte

	err := row.Scan(
		&alert.ID,
		&userID,
		&alert.AlertType,
		&alert.Severity,
		&alert.Description,
		&metadataJSON,
		&alert.RiskScore,
		&alert.Resolved,
		&resolvedBy,
		&resolution,
		&resolvedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metadataJSON, &alert.Metadata); err != nil {
		alert.Metadata = make(map[string]interface{})
	}
	if userID.Valid {
		alert.UserID = &userID.Int64
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.Int64
	}
	if resolution.Valid {
		alert.Resolution = resolution.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}

	return &alert, nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}

// conditions accumulates positional WHERE clauses. Each clause carries one
// %d verb for its parameter index.
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(clause string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}
