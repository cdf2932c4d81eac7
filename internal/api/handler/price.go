package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calonkonglo/rwa-lending-platform/internal/service/lending"
)

// PriceHandler exposes the oracle price
type PriceHandler struct {
	query *lending.QueryService
}

// NewPriceHandler creates a new price handler
func NewPriceHandler(query *lending.QueryService) *PriceHandler {
	return &PriceHandler{query: query}
}

// GetPrice returns the current collateral price
// GET /api/v1/price
func (h *PriceHandler) GetPrice(c *gin.Context) {
	price, err := h.query.GetPrice(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, price)
}
