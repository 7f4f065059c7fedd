package fraud

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FailureMode decides what a detector error does to an evaluation
type FailureMode string

const (
	// FailClosed fails the whole evaluation when any detector errors
	FailClosed FailureMode = "fail_closed"
	// FailOpen drops the failing detector's contribution and reports it as degraded
	FailOpen FailureMode = "fail_open"
)

// Thresholds are the score cut-offs of the decision ladder
type Thresholds struct {
	Low      int `koanf:"low"`
	Medium   int `koanf:"medium"`
	High     int `koanf:"high"`
	Critical int `koanf:"critical"`
}

// Weights are the score contributions of each signal
type Weights struct {
	BlacklistedIP     int `koanf:"blacklisted_ip"`
	BlacklistedDevice int `koanf:"blacklisted_device"`
	Velocity          int `koanf:"velocity"`
	ImpossibleTravel  int `koanf:"impossible_travel"`
	NewDevice         int `koanf:"new_device"`
	NewUserAgent      int `koanf:"new_user_agent"`
	FlaggedActivity   int `koanf:"flagged_activity"`
}

// VelocityRule caps how many actions of one type a user may perform in a window
type VelocityRule struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

// Policy holds every tunable of the engine. It is built once at startup and
// never mutated afterwards.
type Policy struct {
	Thresholds        Thresholds                    `koanf:"thresholds"`
	Weights           Weights                       `koanf:"weights"`
	Velocity          map[ActivityType]VelocityRule `koanf:"velocity"`
	TravelWindow      time.Duration                 `koanf:"travel_window"`
	DeviceHistorySize int                           `koanf:"device_history_size"`
	HistoryWindow     time.Duration                 `koanf:"history_window"`
	MismatchTolerance float64                       `koanf:"mismatch_tolerance"`
	MismatchScore     int                           `koanf:"mismatch_score"`
	FailureMode       FailureMode                   `koanf:"failure_mode"`
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() *Policy {
	return &Policy{
		Thresholds: Thresholds{Low: 30, Medium: 60, High: 80, Critical: 95},
		Weights: Weights{
			BlacklistedIP:     50,
			BlacklistedDevice: 40,
			Velocity:          30,
			ImpossibleTravel:  25,
			NewDevice:         15,
			NewUserAgent:      10,
			FlaggedActivity:   5,
		},
		Velocity: map[ActivityType]VelocityRule{
			ActivityLogin:      {Limit: 10, Window: 60 * time.Minute},
			ActivityPayment:    {Limit: 5, Window: 30 * time.Minute},
			ActivityOrderPlace: {Limit: 20, Window: 60 * time.Minute},
			ActivityWithdrawal: {Limit: 3, Window: 120 * time.Minute},
		},
		TravelWindow:      12 * time.Hour,
		DeviceHistorySize: 20,
		HistoryWindow:     7 * 24 * time.Hour,
		MismatchTolerance: 0.01,
		MismatchScore:     75,
		FailureMode:       FailClosed,
	}
}

// LoadPolicy overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultPolicy(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading policy defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading policy file %s: %w", path, err)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("unmarshaling policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the policy is internally consistent
func (p *Policy) Validate() error {
	var errs []error

	t := p.Thresholds
	if t.Low <= 0 || t.Low > t.Medium || t.Medium > t.High || t.High > t.Critical || t.Critical > MaxRiskScore {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < low <= medium <= high <= critical <= %d", MaxRiskScore))
	}

	w := p.Weights
	for name, v := range map[string]int{
		"blacklisted_ip":     w.BlacklistedIP,
		"blacklisted_device": w.BlacklistedDevice,
		"velocity":           w.Velocity,
		"impossible_travel":  w.ImpossibleTravel,
		"new_device":         w.NewDevice,
		"new_user_agent":     w.NewUserAgent,
		"flagged_activity":   w.FlaggedActivity,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("weight %s must not be negative", name))
		}
	}

	for activity, rule := range p.Velocity {
		if !activity.Valid() {
			errs = append(errs, fmt.Errorf("velocity rule for unknown activity type %q", activity))
			continue
		}
		if rule.Limit <= 0 || rule.Window <= 0 {
			errs = append(errs, fmt.Errorf("velocity rule for %s needs a positive limit and window", activity))
		}
	}

	if p.TravelWindow <= 0 {
		errs = append(errs, errors.New("travel_window must be positive"))
	}
	if p.DeviceHistorySize <= 0 {
		errs = append(errs, errors.New("device_history_size must be positive"))
	}
	if p.HistoryWindow <= 0 {
		errs = append(errs, errors.New("history_window must be positive"))
	}
	if p.MismatchTolerance < 0 {
		errs = append(errs, errors.New("mismatch_tolerance must not be negative"))
	}
	if p.MismatchScore < 0 || p.MismatchScore > MaxRiskScore {
		errs = append(errs, fmt.Errorf("mismatch_score must be within 0..%d", MaxRiskScore))
	}
	if p.FailureMode != FailClosed && p.FailureMode != FailOpen {
		errs = append(errs, fmt.Errorf("unknown failure_mode %q", p.FailureMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid risk policy: %w", errors.Join(errs...))
	}
	return nil
}

// WithFailureMode returns a copy of p using mode
func (p *Policy) WithFailureMode(mode FailureMode) *Policy {
	cp := *p
	cp.FailureMode = mode
	return &cp
}

// VelocityRuleFor returns the velocity rule for activity, if one exists
func (p *Policy) VelocityRuleFor(activity ActivityType) (VelocityRule, bool) {
	rule, ok := p.Velocity[activity]
	return rule, ok
}
