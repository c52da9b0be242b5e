package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"redemption-engine/internal/models"
	"redemption-engine/internal/service"
	"redemption-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	sessions   *service.SessionService
	promos     *service.PromoService
	settlement *service.SettlementService
	rewards    *service.RewardService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sessions *service.SessionService,
	promos *service.PromoService,
	settlement *service.SettlementService,
	rewards *service.RewardService,
) *Handler {
	return &Handler{
		sessions:   sessions,
		promos:     promos,
		settlement: settlement,
		rewards:    rewards,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", h.createSession)
		v1.GET("/sessions/:id", h.sessionStatus)
		v1.GET("/sessions/:id/live", h.sessionLive)
		v1.POST("/sessions/:id/approve", h.approveSession)
		v1.POST("/sessions/:id/reject", h.rejectSession)
		v1.POST("/sessions/:id/cancel", h.cancelSession)

		v1.POST("/redemptions", h.redeem)

		v1.POST("/rewards", h.issueReward)
		v1.GET("/customers/:address/balance", h.customerBalance)

		v1.POST("/promo-codes", h.createPromoCode)
		v1.GET("/promo-codes", h.listPromoCodes)
		v1.POST("/promo-codes/validate", h.validatePromoCode)
		v1.POST("/promo-codes/reservations/:id/rollback", h.rollbackReservation)
		v1.DELETE("/promo-codes/:id", h.deactivatePromoCode)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.sessions.CreateSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) sessionStatus(c *gin.Context) {
	session, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"status":     session.Status,
		"expires_at": session.ExpiresAt,
	})
}

// sessionLive is the cheap poll target for wallet clients: presence lookup
// only, no database read on the happy path.
func (h *Handler) sessionLive(c *gin.Context) {
	live, err := h.sessions.Live(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "live": live})
}

type approveRequest struct {
	CustomerAddress string `json:"customer_address" binding:"required"`
	Signature       string `json:"signature" binding:"required"`
}

func (h *Handler) approveSession(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.sessions.Approve(c.Request.Context(), c.Param("id"), req.CustomerAddress, req.Signature); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.SessionStatusApproved})
}

type rejectRequest struct {
	CustomerAddress string `json:"customer_address" binding:"required"`
}

func (h *Handler) rejectSession(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.sessions.Reject(c.Request.Context(), c.Param("id"), req.CustomerAddress); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.SessionStatusRejected})
}

type cancelRequest struct {
	ShopID string `json:"shop_id" binding:"required"`
}

func (h *Handler) cancelSession(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.sessions.Cancel(c.Request.Context(), c.Param("id"), req.ShopID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.SessionStatusRejected, "cancelled_by_shop": true})
}

func (h *Handler) redeem(c *gin.Context) {
	var req service.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.settlement.Redeem(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) issueReward(c *gin.Context) {
	var req service.IssueRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.rewards.IssueReward(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) customerBalance(c *gin.Context) {
	balance, err := h.rewards.Balance(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) createPromoCode(c *gin.Context) {
	var req service.CreatePromoCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	code, err := h.promos.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func (h *Handler) listPromoCodes(c *gin.Context) {
	shopID := c.Query("shop_id")
	if shopID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shop_id is required"})
		return
	}

	codes, err := h.promos.List(c.Request.Context(), shopID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promo_codes": codes})
}

type validatePromoRequest struct {
	ShopID          string          `json:"shop_id" binding:"required"`
	Code            string          `json:"code" binding:"required"`
	CustomerAddress string          `json:"customer_address" binding:"required"`
	BaseReward      decimal.Decimal `json:"base_reward"`
}

func (h *Handler) validatePromoCode(c *gin.Context) {
	var req validatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	reservation, err := h.promos.ValidateAndReserve(c.Request.Context(), req.ShopID, req.Code, req.CustomerAddress, req.BaseReward)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) rollbackReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	if err := h.promos.Rollback(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolled_back": true})
}

func (h *Handler) deactivatePromoCode(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid promo code ID"})
		return
	}

	shopID := c.Query("shop_id")
	if shopID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shop_id is required"})
		return
	}

	if err := h.promos.Deactivate(c.Request.Context(), shopID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// respondError maps engine errors to HTTP statuses and stable codes so
// clients can render a specific message per precondition.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrPromoNotFound),
		errors.Is(err, models.ErrShopNotFound),
		errors.Is(err, models.ErrReservationNotFound),
		errors.Is(err, models.ErrBalanceNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, models.ErrAmountOutOfRange):
		status, code = http.StatusBadRequest, "amount_out_of_range"
	case errors.Is(err, models.ErrInvalidSignature):
		status, code = http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, models.ErrCustomerMismatch),
		errors.Is(err, models.ErrShopMismatch):
		status, code = http.StatusForbidden, "ownership_mismatch"
	case errors.Is(err, models.ErrSelfRedemption):
		status, code = http.StatusForbidden, "self_redemption"
	case errors.Is(err, models.ErrShopNotEligible):
		status, code = http.StatusForbidden, "shop_not_eligible"
	case errors.Is(err, models.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, models.ErrSessionExpired):
		status, code = http.StatusConflict, "session_expired"
	case errors.Is(err, models.ErrSessionAlreadyUsed):
		status, code = http.StatusConflict, "session_already_used"
	case errors.Is(err, models.ErrSessionNotApproved):
		status, code = http.StatusConflict, "session_not_approved"
	case errors.Is(err, models.ErrSessionNotPending):
		status, code = http.StatusConflict, "session_not_pending"
	case errors.Is(err, models.ErrAmountExceedsLimit):
		status, code = http.StatusConflict, "amount_exceeds_limit"
	case errors.Is(err, models.ErrPromoInactive):
		status, code = http.StatusConflict, "promo_inactive"
	case errors.Is(err, models.ErrPromoNotYetActive):
		status, code = http.StatusConflict, "promo_not_yet_active"
	case errors.Is(err, models.ErrPromoExpired):
		status, code = http.StatusConflict, "promo_expired"
	case errors.Is(err, models.ErrPromoUsageLimitReached):
		status, code = http.StatusConflict, "promo_usage_limit_reached"
	case errors.Is(err, models.ErrPromoPerCustomerLimit):
		status, code = http.StatusConflict, "promo_per_customer_limit"
	case errors.Is(err, models.ErrInsufficientBalance):
		status, code = http.StatusConflict, "insufficient_balance"
	case errors.Is(err, models.ErrSettlementPartiallyFailed):
		// Distinct from a generic failure: the burn committed and the
		// response carries what reconciliation needs.
		var partial *models.PartialSettlementError
		if errors.As(err, &partial) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":        "Settlement partially failed, queued for reconciliation",
				"code":         "settlement_partially_failed",
				"burn_tx_hash": partial.BurnTxHash,
				"burn_amount":  partial.BurnAmount,
				"db_amount":    partial.DBAmount,
			})
			return
		}
		status, code = http.StatusBadGateway, "settlement_partially_failed"
	}

	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
