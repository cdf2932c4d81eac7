package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/api/middleware"
	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/internal/service/lending"
)

// PositionHandler handles collateral and loan endpoints
type PositionHandler struct {
	engine *lending.Engine
	query  *lending.QueryService
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(engine *lending.Engine, query *lending.QueryService) *PositionHandler {
	return &PositionHandler{
		engine: engine,
		query:  query,
	}
}

// AmountRequest carries a decimal amount as a string to preserve precision
type AmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func bindAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal number"})
		return decimal.Zero, false
	}

	return amount, true
}

// LockCollateral adds collateral to the caller's position
// POST /api/v1/positions/collateral/lock
func (h *PositionHandler) LockCollateral(c *gin.Context) {
	account, err := middleware.GetAccount(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	snap, err := h.engine.LockCollateral(c.Request.Context(), account, amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// UnlockCollateral releases all collateral once no debt is outstanding
// POST /api/v1/positions/collateral/unlock
func (h *PositionHandler) UnlockCollateral(c *gin.Context) {
	account, err := middleware.GetAccount(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.engine.Unlock(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Borrow draws stablecoin against the caller's collateral
// POST /api/v1/positions/borrow
func (h *PositionHandler) Borrow(c *gin.Context) {
	account, err := middleware.GetAccount(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	snap, err := h.engine.Borrow(c.Request.Context(), account, amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Repay pays down the caller's outstanding loan
// POST /api/v1/positions/repay
func (h *PositionHandler) Repay(c *gin.Context) {
	account, err := middleware.GetAccount(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	snap, err := h.engine.Repay(c.Request.Context(), account, amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// GetPosition returns the caller's position valued at the current price
// GET /api/v1/positions/me
func (h *PositionHandler) GetPosition(c *gin.Context) {
	account, err := middleware.GetAccount(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.query.GetPosition(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// writeError maps domain errors to HTTP statuses. Validation failures are
// 422, contention is 409, a down oracle is 503.
func writeError(c *gin.Context, err error) {
	var insufficient *model.InsufficientCollateralError
	var ltv *model.LTVExceededError
	var exceeds *model.RepaymentExceedsBalanceError

	switch {
	case errors.Is(err, model.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNoCollateral),
		errors.Is(err, model.ErrNoActiveLoan),
		errors.Is(err, model.ErrLoanStillActive),
		errors.As(err, &insufficient),
		errors.As(err, &ltv),
		errors.As(err, &exceeds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrBusy), errors.Is(err, model.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrPriceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
