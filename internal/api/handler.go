package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/auth"
	"checkout-service/internal/notify"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served over HTTP
type Deps struct {
	Orders      *service.OrderService
	Reconciler  *service.Reconciler
	Admin       *service.AdminService
	Bus         notify.Bus
	Tokens      *auth.Tokens
	WebhookKeys []string
	// Provider names the notification source posting to /hooks/payment
	Provider string
	Ready    []Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	deps      Deps
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.Provider == "" {
		deps.Provider = "sepay"
	}
	return &Handler{
		deps:      deps,
		keepAlive: 15 * time.Second,
		logger:    util.GetLogger(),
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

	router.POST("/hooks/payment", RequireWebhookKey(h.deps.WebhookKeys), h.paymentWebhook)

	v1 := router.Group("/api/v1", Authenticate(h.deps.Tokens))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/payment-status", h.paymentStatus)

		v1.GET("/payments/stream", h.streamSSE)
		v1.GET("/payments/ws", h.streamWS)

		admin := v1.Group("/admin")
		admin.PATCH("/orders/:id/status", RequireCapability(auth.CapOrdersUpdateStatus), h.forceStatus)
		admin.GET("/payments/unmatched", RequireCapability(auth.CapPaymentsReconcile), h.listUnmatched)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.deps.Ready {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	id, _ := identityFrom(c)

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	view, err := h.deps.Orders.CreateOrder(c.Request.Context(), id.UserID, &req)
	if err != nil {
		h.respondError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	id, _ := identityFrom(c)

	view, err := h.deps.Orders.GetOrder(c.Request.Context(), id, orderID)
	if err != nil {
		h.respondError(c, "Order not found", err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// paymentStatus is the polling fallback for stream clients
func (h *Handler) paymentStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	id, _ := identityFrom(c)

	st, err := h.deps.Orders.PaymentStatus(c.Request.Context(), id, orderID)
	if err != nil {
		h.respondError(c, "Order not found", err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return 0, false
	}
	return orderID, true
}

// respondError maps err to its status; internal details stay in the log
func (h *Handler) respondError(c *gin.Context, message string, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
		"kind":    kind,
	})
}
