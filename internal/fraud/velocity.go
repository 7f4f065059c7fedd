package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/richxcame/risk-engine/pkg/logger"
	"github.com/richxcame/risk-engine/pkg/resilience"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// velocityScript trims the sorted set to the trailing window, reads the
// number of earlier attempts and records the current one atomically.
// KEYS[1] counter key, ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] member.
var velocityScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
redis.call('ZADD', key, now, ARGV[3])
redis.call('PEXPIRE', key, window)

return count
`)

// RedisClient is the part of the Redis API the velocity counter uses
type RedisClient interface {
	redis.Scripter
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisVelocityCounter keeps a sliding window of attempts per user and
// activity type in a Redis sorted set. Concurrent callers always observe
// distinct counts. Each attempt is stored under its activity id so an
// attempt that never reaches the activity log can be released.
type RedisVelocityCounter struct {
	client RedisClient
	script *redis.Script
	prefix string
}

// NewRedisVelocityCounter creates a counter storing keys under prefix
func NewRedisVelocityCounter(client RedisClient, prefix string) *RedisVelocityCounter {
	if prefix == "" {
		prefix = "velocity"
	}
	return &RedisVelocityCounter{
		client: client,
		script: velocityScript,
		prefix: prefix,
	}
}

func (c *RedisVelocityCounter) key(userID int64, activityType ActivityType) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, userID, activityType)
}

// Count returns the attempts seen in the trailing window and records this
// one under attemptID. A nil attemptID records an anonymous attempt that
// cannot be released.
func (c *RedisVelocityCounter) Count(ctx context.Context, userID int64, activityType ActivityType, window time.Duration, now time.Time, attemptID uuid.UUID) (int, error) {
	if attemptID == uuid.Nil {
		attemptID = uuid.New()
	}
	keys := []string{c.key(userID, activityType)}
	count, err := c.script.Run(ctx, c.client, keys, now.UnixMilli(), window.Milliseconds(), attemptID.String()).Int64()
	if err != nil {
		return 0, fmt.Errorf("velocity script: %w", err)
	}
	return int(count), nil
}

// Release removes an attempt recorded by Count
func (c *RedisVelocityCounter) Release(ctx context.Context, userID int64, activityType ActivityType, attemptID uuid.UUID) error {
	if err := c.client.ZRem(ctx, c.key(userID, activityType), attemptID.String()).Err(); err != nil {
		return fmt.Errorf("velocity release: %w", err)
	}
	return nil
}

// LogVelocityCounter counts earlier records in the activity log
type LogVelocityCounter struct {
	store ActivityStore
}

// NewLogVelocityCounter creates a counter over the activity log
func NewLogVelocityCounter(store ActivityStore) *LogVelocityCounter {
	return &LogVelocityCounter{store: store}
}

// Count returns how many records of activityType the user has in the window.
// The log only holds written records, so attemptID is not needed.
func (c *LogVelocityCounter) Count(ctx context.Context, userID int64, activityType ActivityType, window time.Duration, now time.Time, _ uuid.UUID) (int, error) {
	return c.store.CountActivities(ctx, userID, activityType, now.Add(-window))
}

// Release is a no-op because nothing is held outside the log
func (c *LogVelocityCounter) Release(context.Context, int64, ActivityType, uuid.UUID) error {
	return nil
}

// ResilientVelocityCounter prefers primary and switches to fallback whenever
// primary fails or its circuit breaker is open.
type ResilientVelocityCounter struct {
	primary  VelocityCounter
	fallback VelocityCounter
	breaker  *resilience.CircuitBreaker
}

// NewResilientVelocityCounter wraps primary in a circuit breaker
func NewResilientVelocityCounter(primary, fallback VelocityCounter, settings resilience.Settings) *ResilientVelocityCounter {
	return &ResilientVelocityCounter{
		primary:  primary,
		fallback: fallback,
		breaker:  resilience.NewCircuitBreaker(settings, resilience.GracefulDegradation(settings.Name)),
	}
}

func (c *ResilientVelocityCounter) Count(ctx context.Context, userID int64, activityType ActivityType, window time.Duration, now time.Time, attemptID uuid.UUID) (int, error) {
	res, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.primary.Count(ctx, userID, activityType, window, now, attemptID)
	})
	if err == nil {
		if count, ok := res.(int); ok {
			return count, nil
		}
	}

	logger.WithContext(ctx).Warn("velocity counter unavailable, counting activity log",
		zap.String("breaker", c.breaker.Name()),
		zap.String("state", c.breaker.State().String()),
		zap.Error(err))
	return c.fallback.Count(ctx, userID, activityType, window, now, attemptID)
}

// Release drops the attempt from both counters. An open breaker means the
// primary never recorded it.
func (c *ResilientVelocityCounter) Release(ctx context.Context, userID int64, activityType ActivityType, attemptID uuid.UUID) error {
	var primaryErr error
	if c.breaker.State() != gobreaker.StateOpen {
		primaryErr = c.primary.Release(ctx, userID, activityType, attemptID)
	}
	return errors.Join(primaryErr, c.fallback.Release(ctx, userID, activityType, attemptID))
}
