package api

import (
	"errors"
	"io"
	"net/http"

	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds a provider notification
const maxWebhookBody = 64 << 10

// paymentWebhook answers every authenticated notification with a definite
// outcome. Only a storage failure is reported as an error so the provider retries.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Failed to read body"})
		return
	}

	n, err := payment.ParseNotification(h.deps.Provider, body)
	if err != nil {
		util.WebhookNotificationsTotal.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":      false,
			"error":   "Invalid notification",
			"details": err.Error(),
		})
		return
	}

	res, err := h.deps.Reconciler.HandleNotification(c.Request.Context(), n)
	if err != nil {
		h.logger.Error("Failed to reconcile payment notification",
			zap.String("provider_ref", n.ProviderRef),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Temporary failure, retry later"})
		return
	}

	if res.Outcome == service.OutcomeIgnored {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"ignored": true,
			"reason":  res.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"orderId":   res.OrderID,
		"paymentId": res.PaymentID,
	})
}
