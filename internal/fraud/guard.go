package fraud

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/logger"
	"github.com/richxcame/risk-engine/pkg/middleware"
	"go.uber.org/zap"
)

// Headers the guard reads request context from
const (
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderSessionID         = "X-Session-ID"
	HeaderGeoCountry        = "X-Geo-Country"
	HeaderGeoCity           = "X-Geo-City"
	HeaderGeoLat            = "X-Geo-Lat"
	HeaderGeoLng            = "X-Geo-Lng"
)

// GuardResultKey is the gin context key holding the guard's EvaluationResult
const GuardResultKey = "risk_evaluation"

// BlockedMessage is the only detail a blocked caller receives
const BlockedMessage = "request blocked for security reasons"

// GuardOptions configures Guard
type GuardOptions struct {
	// FailureMode decides what happens when the evaluation itself fails.
	// The zero value behaves as FailClosed.
	FailureMode FailureMode
}

// Guard evaluates the authenticated caller's request as activityType before
// the wrapped handler runs and rejects it when the score calls for a block.
func Guard(evaluator Evaluator, activityType ActivityType, opts GuardOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			common.AbortWithError(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		req := &EvaluationRequest{
			UserID:            userID,
			ActivityType:      activityType,
			IPAddress:         c.ClientIP(),
			UserAgent:         c.Request.UserAgent(),
			DeviceFingerprint: c.GetHeader(HeaderDeviceFingerprint),
			SessionID:         c.GetHeader(HeaderSessionID),
			Location:          locationFromHeaders(c.Request.Header),
			Metadata: map[string]interface{}{
				"method": c.Request.Method,
				"path":   c.FullPath(),
			},
		}

		ctx := c.Request.Context()
		result, err := evaluator.Evaluate(ctx, req)
		if err != nil {
			if opts.FailureMode == FailOpen {
				logger.WithContext(ctx).Warn("risk evaluation failed, allowing request",
					zap.Int64("user_id", userID),
					zap.String("activity_type", string(activityType)),
					zap.Error(err))
				c.Next()
				return
			}
			logger.WithContext(ctx).Error("risk evaluation failed, rejecting request",
				zap.Int64("user_id", userID),
				zap.String("activity_type", string(activityType)),
				zap.Error(err))
			common.AbortWithError(c, http.StatusServiceUnavailable, "risk check unavailable, please retry later")
			return
		}

		c.Set(GuardResultKey, result)

		if result.ShouldBlock {
			logger.WithContext(ctx).Warn("request blocked by risk engine",
				zap.Int64("user_id", userID),
				zap.String("activity_type", string(activityType)),
				zap.Int("risk_score", result.RiskScore))
			common.AbortWithError(c, http.StatusForbidden, BlockedMessage)
			return
		}

		c.Next()
	}
}

// GuardResult returns the evaluation stored by Guard, if any
func GuardResult(c *gin.Context) (*EvaluationResult, bool) {
	v, ok := c.Get(GuardResultKey)
	if !ok {
		return nil, false
	}
	result, ok := v.(*EvaluationResult)
	return result, ok
}

func locationFromHeaders(h http.Header) *Location {
	country := strings.TrimSpace(h.Get(HeaderGeoCountry))
	if country == "" {
		return nil
	}

	loc := &Location{Country: country, City: strings.TrimSpace(h.Get(HeaderGeoCity))}
	lat, latErr := strconv.ParseFloat(h.Get(HeaderGeoLat), 64)
	lng, lngErr := strconv.ParseFloat(h.Get(HeaderGeoLng), 64)
	if latErr == nil && lngErr == nil && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
		loc.Lat = &lat
		loc.Lng = &lng
	}
	return loc
}
