package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Checker is a dependency health probe
type Checker func() error

// Pinger is satisfied by *pgxpool.Pool and by the redis client wrapper
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckerConfig controls how long a single probe may take
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default probe settings
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// PingChecker returns a health check for anything that can be pinged
func PingChecker(name string, p Pinger) Checker {
	return PingCheckerWithConfig(name, p, DefaultCheckerConfig())
}

// PingCheckerWithConfig is PingChecker with a custom timeout
func PingCheckerWithConfig(name string, p Pinger, cfg CheckerConfig) Checker {
	return func() error {
		if p == nil {
			return fmt.Errorf("%s connection is nil", name)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return p.Ping(ctx)
	}
}

// CompositeChecker runs every checker and reports all failures together
func CompositeChecker(checkers map[string]Checker) Checker {
	return func() error {
		var failures []string
		for name, check := range checkers {
			if err := check(); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			}
		}
		if len(failures) > 0 {
			return errors.New(strings.Join(failures, "; "))
		}
		return nil
	}
}

// CachedChecker remembers the last result for ttl so that frequent probes
// from load balancers do not hammer the database.
type CachedChecker struct {
	check     Checker
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	lastErr   error
	checkedAt time.Time
}

// NewCachedChecker wraps check with a result cache
func NewCachedChecker(check Checker, ttl time.Duration) *CachedChecker {
	return &CachedChecker{check: check, ttl: ttl, now: time.Now}
}

// Check returns the cached result or runs the probe again when it is stale
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.ttl {
		return c.lastErr
	}

	c.lastErr = c.check()
	c.checkedAt = now
	return c.lastErr
}
