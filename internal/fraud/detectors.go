package fraud

import (
	"context"
	"fmt"
	"math"
	"time"
)

// MaxRiskScore is the upper bound of every risk score
const MaxRiskScore = 100

// SignalKind identifies which rule produced a signal
type SignalKind string

const (
	SignalBlacklistedIP     SignalKind = "blacklisted_ip"
	SignalBlacklistedDevice SignalKind = "blacklisted_device"
	SignalVelocity          SignalKind = "velocity"
	SignalImpossibleTravel  SignalKind = "impossible_travel"
	SignalNewDevice         SignalKind = "new_device"
	SignalNewUserAgent      SignalKind = "new_user_agent"
	SignalFlaggedHistory    SignalKind = "flagged_history"
	// SignalPaymentMismatch is never raised by the built-in detectors. It is
	// reserved for callers that feed mismatch signals into the composite flow.
	SignalPaymentMismatch SignalKind = "payment_mismatch"
)

// Signal is one reason a detector raised the score
type Signal struct {
	Kind     SignalKind             `json:"kind"`
	Message  string                 `json:"message"`
	Score    int                    `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Detector inspects one aspect of a request. Detectors are read-only and
// safe to run concurrently.
type Detector interface {
	Name() string
	Detect(ctx context.Context, req *EvaluationRequest, now time.Time) ([]Signal, error)
}

// BlacklistChecker matches the request's IP and device against active bans
type BlacklistChecker struct {
	store  BlacklistStore
	policy *Policy
}

// NewBlacklistChecker creates a blacklist detector
func NewBlacklistChecker(store BlacklistStore, policy *Policy) *BlacklistChecker {
	return &BlacklistChecker{store: store, policy: policy}
}

func (d *BlacklistChecker) Name() string { return "blacklist" }

func (d *BlacklistChecker) Detect(ctx context.Context, req *EvaluationRequest, now time.Time) ([]Signal, error) {
	var signals []Signal

	if req.IPAddress != "" {
		entry, err := d.store.FindActiveBlacklistEntry(ctx, EntityIP, req.IPAddress, now)
		if err != nil {
			return nil, fmt.Errorf("checking ip blacklist: %w", err)
		}
		if entry != nil {
			signals = append(signals, Signal{
				Kind:    SignalBlacklistedIP,
				Message: "IP address is blacklisted",
				Score:   d.policy.Weights.BlacklistedIP,
			})
		}
	}

	if req.DeviceFingerprint != "" {
		entry, err := d.store.FindActiveBlacklistEntry(ctx, EntityDevice, req.DeviceFingerprint, now)
		if err != nil {
			return nil, fmt.Errorf("checking device blacklist: %w", err)
		}
		if entry != nil {
			signals = append(signals, Signal{
				Kind:    SignalBlacklistedDevice,
				Message: "Device fingerprint is blacklisted",
				Score:   d.policy.Weights.BlacklistedDevice,
			})
		}
	}

	return signals, nil
}

// VelocityLimiter flags users exceeding the per-activity rate in the policy
type VelocityLimiter struct {
	counter VelocityCounter
	policy  *Policy
}

// NewVelocityLimiter creates a velocity detector backed by counter
func NewVelocityLimiter(counter VelocityCounter, policy *Policy) *VelocityLimiter {
	return &VelocityLimiter{counter: counter, policy: policy}
}

func (d *VelocityLimiter) Name() string { return "velocity" }

func (d *VelocityLimiter) Detect(ctx context.Context, req *EvaluationRequest, now time.Time) ([]Signal, error) {
	rule, ok := d.policy.VelocityRuleFor(req.ActivityType)
	if !ok {
		return nil, nil
	}

	count, err := d.counter.Count(ctx, req.UserID, req.ActivityType, rule.Window, now, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("counting %s activities: %w", req.ActivityType, err)
	}
	if count < rule.Limit {
		return nil, nil
	}

	return []Signal{{
		Kind: SignalVelocity,
		Message: fmt.Sprintf("High velocity detected: %d %s activities in the last %s",
			count, req.ActivityType, formatWindow(rule.Window)),
		Score: d.policy.Weights.Velocity,
		Metadata: map[string]interface{}{
			"count":          count,
			"limit":          rule.Limit,
			"window_minutes": int(rule.Window.Minutes()),
		},
	}}, nil
}

// LocationDetector flags a country change faster than travel allows
type LocationDetector struct {
	store  ActivityStore
	policy *Policy
}

// NewLocationDetector creates an impossible travel detector
func NewLocationDetector(store ActivityStore, policy *Policy) *LocationDetector {
	return &LocationDetector{store: store, policy: policy}
}

func (d *LocationDetector) Name() string { return "location" }

func (d *LocationDetector) Detect(ctx context.Context, req *EvaluationRequest, now time.Time) ([]Signal, error) {
	if req.Location == nil || req.Location.Country == "" {
		return nil, nil
	}

	prev, err := d.store.LatestLocatedActivity(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading last location: %w", err)
	}
	if prev == nil || prev.Location == nil || prev.Location.Country == "" {
		return nil, nil
	}

	// a previous record from the future means clock skew, not travel
	elapsed := now.Sub(prev.Timestamp)
	if elapsed < 0 || prev.Location.Country == req.Location.Country || elapsed >= d.policy.TravelWindow {
		return nil, nil
	}

	hours := elapsed.Hours()
	meta := map[string]interface{}{
		"previous_country": prev.Location.Country,
		"current_country":  req.Location.Country,
		"elapsed_hours":    math.Round(hours*10) / 10,
	}
	if prev.Location.HasCoordinates() && req.Location.HasCoordinates() {
		km := haversineKm(*prev.Location.Lat, *prev.Location.Lng, *req.Location.Lat, *req.Location.Lng)
		meta["distance_km"] = math.Round(km)
	}

	return []Signal{{
		Kind: SignalImpossibleTravel,
		Message: fmt.Sprintf("Impossible travel detected: %s to %s in %.1f hours",
			prev.Location.Country, req.Location.Country, hours),
		Score:    d.policy.Weights.ImpossibleTravel,
		Metadata: meta,
	}}, nil
}

// DeviceDetector flags fingerprints and user agents absent from recent history
type DeviceDetector struct {
	store  ActivityStore
	policy *Policy
}

// NewDeviceDetector creates a device anomaly detector
func NewDeviceDetector(store ActivityStore, policy *Policy) *DeviceDetector {
	return &DeviceDetector{store: store, policy: policy}
}

func (d *DeviceDetector) Name() string { return "device" }

func (d *DeviceDetector) Detect(ctx context.Context, req *EvaluationRequest, _ time.Time) ([]Signal, error) {
	if req.DeviceFingerprint == "" && req.UserAgent == "" {
		return nil, nil
	}

	recent, err := d.store.RecentActivities(ctx, req.UserID, d.policy.DeviceHistorySize)
	if err != nil {
		return nil, fmt.Errorf("loading recent activities: %w", err)
	}

	fingerprints := make(map[string]struct{}, len(recent))
	agents := make(map[string]struct{}, len(recent))
	for _, r := range recent {
		if r.DeviceFingerprint != "" {
			fingerprints[r.DeviceFingerprint] = struct{}{}
		}
		if r.UserAgent != "" {
			agents[r.UserAgent] = struct{}{}
		}
	}

	var signals []Signal
	if req.DeviceFingerprint != "" {
		if _, known := fingerprints[req.DeviceFingerprint]; !known {
			signals = append(signals, Signal{
				Kind:    SignalNewDevice,
				Message: "New device detected",
				Score:   d.policy.Weights.NewDevice,
			})
		}
	}
	if req.UserAgent != "" {
		if _, known := agents[req.UserAgent]; !known {
			signals = append(signals, Signal{
				Kind:    SignalNewUserAgent,
				Message: "New user agent detected",
				Score:   d.policy.Weights.NewUserAgent,
			})
		}
	}
	return signals, nil
}

// HistoryChecker raises the score for users with recently flagged activity
type HistoryChecker struct {
	store  ActivityStore
	policy *Policy
}

// NewHistoryChecker creates a behavioral history detector
func NewHistoryChecker(store ActivityStore, policy *Policy) *HistoryChecker {
	return &HistoryChecker{store: store, policy: policy}
}

func (d *HistoryChecker) Name() string { return "history" }

func (d *HistoryChecker) Detect(ctx context.Context, req *EvaluationRequest, now time.Time) ([]Signal, error) {
	count, err := d.store.CountFlaggedActivities(ctx, req.UserID, now.Add(-d.policy.HistoryWindow))
	if err != nil {
		return nil, fmt.Errorf("counting flagged activities: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	return []Signal{{
		Kind: SignalFlaggedHistory,
		Message: fmt.Sprintf("User has %d flagged activities in the last %s",
			count, formatWindow(d.policy.HistoryWindow)),
		Score:    count * d.policy.Weights.FlaggedActivity,
		Metadata: map[string]interface{}{"flagged_count": count},
	}}, nil
}

func formatWindow(w time.Duration) string {
	day := 24 * time.Hour
	if w >= day && w%day == 0 {
		if w == day {
			return "1 day"
		}
		return fmt.Sprintf("%d days", int(w/day))
	}
	return fmt.Sprintf("%d minutes", int(w.Minutes()))
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
