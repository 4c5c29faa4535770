package api

import (
	"net/http"
	"strconv"

	"checkout-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type forceStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// forceStatus lets an operator override the order lifecycle
func (h *Handler) forceStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req forceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.deps.Admin.ForceStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		h.respondError(c, "Failed to update order status", err)
		return
	}

	id, _ := identityFrom(c)
	h.logger.Info("Order status overridden",
		zap.Int64("order_id", orderID),
		zap.Int64("operator_id", id.UserID),
		zap.String("status", string(order.Status)))

	c.JSON(http.StatusOK, order)
}

// listUnmatched returns notifications awaiting manual reconciliation
func (h *Handler) listUnmatched(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	list, err := h.deps.Admin.ListUnmatched(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "Failed to list notifications", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list})
}
