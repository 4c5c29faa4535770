package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/notify"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers send the token in the query string, so origin checks add nothing here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is the frame written to WebSocket clients
type streamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// openStream authorizes the caller and subscribes to the requested topic.
// With ?orderId the caller must be able to see that order; without it the
// caller watches every order and needs the read-any capability.
func (h *Handler) openStream(c *gin.Context) (*notify.Subscription, *service.PaymentStatusView, bool) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()

	raw := c.Query("orderId")
	if raw == "" {
		if !id.Can(auth.CapOrdersReadAny) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":               "Insufficient permission",
				"required_permission": auth.CapOrdersReadAny,
			})
			return nil, nil, false
		}
		sub, err := h.deps.Bus.Subscribe(ctx, notify.AllOrders)
		if err != nil {
			h.respondError(c, "Failed to subscribe", err)
			return nil, nil, false
		}
		return sub, nil, true
	}

	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return nil, nil, false
	}

	// subscribe before the snapshot so no transition falls between them
	sub, err := h.deps.Bus.Subscribe(ctx, notify.OrderTopic(orderID))
	if err != nil {
		h.respondError(c, "Failed to subscribe", err)
		return nil, nil, false
	}
	snapshot, err := h.deps.Orders.PaymentStatus(ctx, id, orderID)
	if err != nil {
		sub.Close()
		h.respondError(c, "Order not found", err)
		return nil, nil, false
	}
	return sub, snapshot, true
}

// streamSSE pushes order status changes as server-sent events
func (h *Handler) streamSSE(c *gin.Context) {
	sub, snapshot, ok := h.openStream(c)
	if !ok {
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if snapshot != nil {
		c.SSEvent("snapshot", snapshot)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case ev, open := <-sub.Events():
			if !open {
				return false
			}
			c.SSEvent("status", ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// streamWS pushes order status changes over a WebSocket
func (h *Handler) streamWS(c *gin.Context) {
	sub, snapshot, ok := h.openStream(c)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// drain client frames so close and pong are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg streamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	if snapshot != nil {
		if err := write(streamMessage{Type: "snapshot", Data: snapshot}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, open := <-sub.Events():
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := write(streamMessage{Type: "status", Data: ev}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
