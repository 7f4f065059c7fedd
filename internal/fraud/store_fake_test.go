package fraud

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeStore is an in-memory Store for engine tests. Setting an entry in
// errs makes the named method fail with that error.
type fakeStore struct {
	mu         sync.Mutex
	activities []*ActivityRecord
	blacklist  []*BlacklistEntry
	alerts     []*FraudAlert
	errs       map[string]error
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{errs: make(map[string]error)}
}

func (s *fakeStore) failWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = err
}

func (s *fakeStore) activityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activities)
}

func (s *fakeStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func (s *fakeStore) lastActivity() *ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.activities) == 0 {
		return nil
	}
	return s.activities[len(s.activities)-1]
}

func (s *fakeStore) lastAlert() *FraudAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alerts) == 0 {
		return nil
	}
	return s.alerts[len(s.alerts)-1]
}

func (s *fakeStore) CreateActivity(_ context.Context, record *ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["CreateActivity"]; err != nil {
		return err
	}
	cp := *record
	s.activities = append(s.activities, &cp)
	return nil
}

func (s *fakeStore) CountActivities(_ context.Context, userID int64, activityType ActivityType, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["CountActivities"]; err != nil {
		return 0, err
	}
	count := 0
	for _, a := range s.activities {
		if a.UserID == userID && a.ActivityType == activityType && !a.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) LatestLocatedActivity(_ context.Context, userID int64) (*ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["LatestLocatedActivity"]; err != nil {
		return nil, err
	}
	var latest *ActivityRecord
	for _, a := range s.activities {
		if a.UserID != userID || a.Location == nil || a.Location.Country == "" {
			continue
		}
		if latest == nil || a.Timestamp.After(latest.Timestamp) {
			latest = a
		}
	}
	return latest, nil
}

func (s *fakeStore) RecentActivities(_ context.Context, userID int64, limit int) ([]*ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["RecentActivities"]; err != nil {
		return nil, err
	}
	var records []*ActivityRecord
	for _, a := range s.activities {
		if a.UserID == userID {
			records = append(records, a)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *fakeStore) CountFlaggedActivities(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["CountFlaggedActivities"]; err != nil {
		return 0, err
	}
	count := 0
	for _, a := range s.activities {
		if a.UserID == userID && a.Flagged && !a.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CreateBlacklistEntry(_ context.Context, entry *BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["CreateBlacklistEntry"]; err != nil {
		return err
	}
	cp := *entry
	s.blacklist = append(s.blacklist, &cp)
	return nil
}

func (s *fakeStore) FindActiveBlacklistEntry(_ context.Context, entityType EntityType, value string, now time.Time) (*BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["FindActiveBlacklistEntry"]; err != nil {
		return nil, err
	}
	for _, e := range s.blacklist {
		if e.EntityType == entityType && e.EntityValue == value && e.ActiveAt(now) {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListBlacklistEntries(_ context.Context, filter BlacklistFilter, limit, offset int) ([]*BlacklistEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ListBlacklistEntries"]; err != nil {
		return nil, 0, err
	}
	var matched []*BlacklistEntry
	now := time.Now()
	for _, e := range s.blacklist {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.ActiveOnly && !e.ActiveAt(now) {
			continue
		}
		matched = append(matched, e)
	}
	return page(matched, limit, offset), int64(len(matched)), nil
}

func (s *fakeStore) DeactivateBlacklistEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["DeactivateBlacklistEntry"]; err != nil {
		return err
	}
	for _, e := range s.blacklist {
		if e.ID == id {
			e.IsActive = false
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *fakeStore) CreateFraudAlert(_ context.Context, alert *FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["CreateFraudAlert"]; err != nil {
		return err
	}
	cp := *alert
	s.alerts = append(s.alerts, &cp)
	return nil
}

func (s *fakeStore) GetFraudAlertByID(_ context.Context, id uuid.UUID) (*FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["GetFraudAlertByID"]; err != nil {
		return nil, err
	}
	for _, a := range s.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeStore) ListFraudAlerts(_ context.Context, filter AlertFilter, limit, offset int) ([]*FraudAlert, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ListFraudAlerts"]; err != nil {
		return nil, 0, err
	}
	var matched []*FraudAlert
	for _, a := range s.alerts {
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.UserID != nil && (a.UserID == nil || *a.UserID != *filter.UserID) {
			continue
		}
		matched = append(matched, a)
	}
	return page(matched, limit, offset), int64(len(matched)), nil
}

func (s *fakeStore) ResolveFraudAlert(_ context.Context, id uuid.UUID, resolvedBy int64, resolution string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["ResolveFraudAlert"]; err != nil {
		return err
	}
	for _, a := range s.alerts {
		if a.ID != id {
			continue
		}
		if a.Resolved {
			return ErrAlertAlreadyResolved
		}
		a.Resolved = true
		a.ResolvedBy = &resolvedBy
		a.Resolution = resolution
		a.ResolvedAt = &resolvedAt
		a.UpdatedAt = resolvedAt
		return nil
	}
	return pgx.ErrNoRows
}

func (s *fakeStore) GetAlertStatistics(_ context.Context, from, to time.Time) (*AlertStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["GetAlertStatistics"]; err != nil {
		return nil, err
	}
	stats := &AlertStatistics{}
	sum := 0
	for _, a := range s.alerts {
		if a.CreatedAt.Before(from) || a.CreatedAt.After(to) {
			continue
		}
		stats.TotalAlerts++
		sum += a.RiskScore
		switch a.Severity {
		case SeverityCritical:
			stats.CriticalAlerts++
		case SeverityHigh:
			stats.HighAlerts++
		case SeverityMedium:
			stats.MediumAlerts++
		case SeverityLow:
			stats.LowAlerts++
		}
		if a.Resolved {
			stats.ResolvedAlerts++
		} else {
			stats.UnresolvedAlerts++
		}
	}
	if stats.TotalAlerts > 0 {
		stats.AverageRiskScore = float64(sum) / float64(stats.TotalAlerts)
	}
	return stats, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
