package fraud

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/jwtkeys"
	"github.com/richxcame/risk-engine/pkg/logger"
	"github.com/richxcame/risk-engine/pkg/middleware"
	"github.com/richxcame/risk-engine/pkg/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Evaluator scores a user action
type Evaluator interface {
	Evaluate(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error)
}

// ServiceInterface is the part of Service the HTTP layer depends on
type ServiceInterface interface {
	Evaluator
	CheckPaymentMismatch(ctx context.Context, userID int64, expected, actual decimal.Decimal, paymentMethod string, metadata map[string]interface{}) (*PaymentMismatchResult, error)
	ListAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*FraudAlert, int64, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy int64, resolution string) (*FraudAlert, error)
	AlertStatistics(ctx context.Context, from, to time.Time) (*AlertStatistics, error)
	AddToBlacklist(ctx context.Context, entityType EntityType, entityValue, reason, addedBy string, expiresAt *time.Time) (*BlacklistEntry, error)
	ListBlacklist(ctx context.Context, filter BlacklistFilter, limit, offset int) ([]*BlacklistEntry, int64, error)
	DeactivateBlacklistEntry(ctx context.Context, id uuid.UUID) error
}

var _ ServiceInterface = (*Service)(nil)

// LocationRequest is the request form of Location
type LocationRequest struct {
	Country string   `json:"country" validate:"required,max=64"`
	City    string   `json:"city" validate:"omitempty,max=128"`
	Lat     *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng     *float64 `json:"lng" validate:"omitempty,longitude"`
}

// EvaluateRequest is the body of POST /api/v1/risk/evaluate
type EvaluateRequest struct {
	UserID            int64                  `json:"user_id" validate:"omitempty,gt=0"`
	ActivityType      ActivityType           `json:"activity_type" validate:"required,oneof=LOGIN PAYMENT ORDER_PLACE PROFILE_UPDATE PASSWORD_CHANGE WITHDRAWAL REFUND"`
	IPAddress         string                 `json:"ip_address" validate:"omitempty,ip"`
	UserAgent         string                 `json:"user_agent" validate:"omitempty,max=512"`
	DeviceFingerprint string                 `json:"device_fingerprint" validate:"omitempty,max=256"`
	SessionID         string                 `json:"session_id" validate:"omitempty,max=128"`
	Location          *LocationRequest       `json:"location" validate:"omitempty"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// PaymentMismatchRequest is the body of POST /api/v1/risk/payments/mismatch
type PaymentMismatchRequest struct {
	UserID         int64                  `json:"user_id" validate:"omitempty,gt=0"`
	ExpectedAmount decimal.Decimal        `json:"expected_amount"`
	ActualAmount   decimal.Decimal        `json:"actual_amount"`
	PaymentMethod  string                 `json:"payment_method" validate:"required,max=64"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// ResolveAlertRequest is the body of PUT /alerts/:id/resolve
type ResolveAlertRequest struct {
	Resolution string `json:"resolution" validate:"required,not_blank,max=1000"`
}

// AddBlacklistRequest is the body of POST /blacklist
type AddBlacklistRequest struct {
	EntityType  EntityType `json:"entity_type" validate:"required,oneof=EMAIL PHONE IP DEVICE BANK_ACCOUNT"`
	EntityValue string     `json:"entity_value" validate:"required,not_blank,max=255"`
	Reason      string     `json:"reason" validate:"required,not_blank,max=500"`
	ExpiresAt   *time.Time `json:"expires_at" validate:"omitempty,future"`
}

// Handler handles HTTP requests for risk evaluation and fraud administration
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new fraud handler
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// Evaluate scores an action before it is performed
// POST /api/v1/risk/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	userID, ok := resolveSubject(c, req.UserID)
	if !ok {
		return
	}

	evalReq := &EvaluationRequest{
		UserID:            userID,
		ActivityType:      req.ActivityType,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		SessionID:         req.SessionID,
		Metadata:          req.Metadata,
	}
	if req.Location != nil {
		evalReq.Location = &Location{
			Country: req.Location.Country,
			City:    req.Location.City,
			Lat:     req.Location.Lat,
			Lng:     req.Location.Lng,
		}
	}
	// only trusted services may report the client's network identity
	if middleware.GetUserRole(c) != middleware.RoleService {
		evalReq.IPAddress = c.ClientIP()
		evalReq.UserAgent = c.Request.UserAgent()
	}

	result, err := h.service.Evaluate(c.Request.Context(), evalReq)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok && appErr.Code < http.StatusInternalServerError {
			common.AppErrorResponse(c, appErr)
			return
		}
		logger.WithContext(c.Request.Context()).Error("risk evaluation failed",
			zap.Int64("user_id", userID), zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, "risk evaluation failed")
		return
	}

	common.SuccessResponse(c, result)
}

// CheckPaymentMismatch reconciles a captured payment amount
// POST /api/v1/risk/payments/mismatch
func (h *Handler) CheckPaymentMismatch(c *gin.Context) {
	var req PaymentMismatchRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}
	if req.ExpectedAmount.IsNegative() || req.ActualAmount.IsNegative() {
		common.ErrorResponse(c, http.StatusBadRequest, "amounts must not be negative")
		return
	}

	result, err := h.service.CheckPaymentMismatch(c.Request.Context(), req.UserID,
		req.ExpectedAmount, req.ActualAmount, req.PaymentMethod, req.Metadata)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("payment mismatch check failed", zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to check payment")
		return
	}

	common.SuccessResponse(c, result)
}

// ListAlerts lists fraud alerts
// GET /api/v1/admin/fraud/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	params := pagination.ParseParams(c)

	var filter AlertFilter
	if v := c.Query("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid resolved filter")
			return
		}
		filter.Resolved = &resolved
	}
	if v := c.Query("severity"); v != "" {
		filter.Severity = Severity(strings.ToUpper(v))
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || userID <= 0 {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid user ID")
			return
		}
		filter.UserID = &userID
	}

	alerts, total, err := h.service.ListAlerts(c.Request.Context(), filter, params.Limit, params.Offset)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	common.SuccessResponseWithMeta(c, alerts, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// GetAlert returns one alert
// GET /api/v1/admin/fraud/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid alert ID")
		return
	}

	alert, err := h.service.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to get alert")
		return
	}

	common.SuccessResponse(c, alert)
}

// ResolveAlert closes an alert
// PUT /api/v1/admin/fraud/alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid alert ID")
		return
	}

	adminID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ResolveAlertRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	alert, err := h.service.ResolveAlert(c.Request.Context(), alertID, adminID, req.Resolution)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to resolve alert")
		return
	}

	common.SuccessResponse(c, alert)
}

// GetStatistics summarises alerts in a date range, the last 30 days by default
// GET /api/v1/admin/fraud/alerts/statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := c.Query("start_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid start_date, expected YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if v := c.Query("end_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid end_date, expected YYYY-MM-DD")
			return
		}
		to = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	stats, err := h.service.AlertStatistics(c.Request.Context(), from, to)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to get statistics")
		return
	}

	common.SuccessResponse(c, stats)
}

// AddToBlacklist bans an identifier
// POST /api/v1/admin/fraud/blacklist
func (h *Handler) AddToBlacklist(c *gin.Context) {
	adminID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AddBlacklistRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	entry, err := h.service.AddToBlacklist(c.Request.Context(), req.EntityType, req.EntityValue,
		req.Reason, strconv.FormatInt(adminID, 10), req.ExpiresAt)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to add blacklist entry")
		return
	}

	common.CreatedResponse(c, entry)
}

// ListBlacklist lists blacklist entries
// GET /api/v1/admin/fraud/blacklist
func (h *Handler) ListBlacklist(c *gin.Context) {
	params := pagination.ParseParams(c)

	filter := BlacklistFilter{EntityType: EntityType(strings.ToUpper(c.Query("entity_type")))}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid active filter")
			return
		}
		filter.ActiveOnly = active
	}

	entries, total, err := h.service.ListBlacklist(c.Request.Context(), filter, params.Limit, params.Offset)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to list blacklist entries")
		return
	}

	common.SuccessResponseWithMeta(c, entries, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// DeactivateBlacklistEntry lifts a ban
// DELETE /api/v1/admin/fraud/blacklist/:id
func (h *Handler) DeactivateBlacklistEntry(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid blacklist entry ID")
		return
	}

	if err := h.service.DeactivateBlacklistEntry(c.Request.Context(), entryID); err != nil {
		if appErr, ok := common.AsAppError(err); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to deactivate blacklist entry")
		return
	}

	common.SuccessResponse(c, gin.H{"message": "blacklist entry deactivated"})
}

// RegisterRoutes registers risk and fraud administration routes
func (h *Handler) RegisterRoutes(r *gin.Engine, serviceToken string, jwtProvider jwtkeys.KeyProvider) {
	risk := r.Group("/api/v1/risk")
	risk.Use(middleware.ServiceOrUserAuth(serviceToken, jwtProvider))
	{
		risk.POST("/evaluate", h.Evaluate)
		risk.POST("/payments/mismatch",
			middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin),
			h.CheckPaymentMismatch)
	}

	admin := r.Group("/api/v1/admin/fraud")
	admin.Use(middleware.AuthMiddlewareWithProvider(jwtProvider))
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/alerts", h.ListAlerts)
		admin.GET("/alerts/statistics", h.GetStatistics)
		admin.GET("/alerts/:id", h.GetAlert)
		admin.PUT("/alerts/:id/resolve", h.ResolveAlert)

		admin.POST("/blacklist", h.AddToBlacklist)
		admin.GET("/blacklist", h.ListBlacklist)
		admin.DELETE("/blacklist/:id", h.DeactivateBlacklistEntry)
	}
}

// resolveSubject picks the user an evaluation is about. Service and admin
// callers name the user in the body; end users can only evaluate themselves.
func resolveSubject(c *gin.Context, requested int64) (int64, bool) {
	role := middleware.GetUserRole(c)
	if role == middleware.RoleService || role == middleware.RoleAdmin {
		if requested <= 0 {
			common.ErrorResponse(c, http.StatusBadRequest, "user_id is required")
			return 0, false
		}
		return requested, true
	}

	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	if requested != 0 && requested != userID {
		common.ErrorResponse(c, http.StatusForbidden, "cannot evaluate activity for another user")
		return 0, false
	}
	return userID, true
}
