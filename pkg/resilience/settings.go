package resilience

import (
	"time"

	"github.com/richxcame/risk-engine/pkg/config"
)

// SettingsFromConfig turns the RISK_BREAKER_* knobs into breaker Settings.
func SettingsFromConfig(name string, cfg config.RiskConfig, isFailure func(error) bool) Settings {
	interval := time.Duration(cfg.BreakerInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	timeout := time.Duration(cfg.BreakerTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	successes := cfg.BreakerSuccesses
	if successes <= 0 {
		successes = 1
	}

	return Settings{
		Name:             name,
		Interval:         interval,
		Timeout:          timeout,
		FailureThreshold: uint32(failures),
		SuccessThreshold: uint32(successes),
		IsFailure:        isFailure,
	}
}
