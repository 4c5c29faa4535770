package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

// readSSE parses the stream into events until the body closes
func readSSE(body *bufio.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		var ev sseEvent
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func nextSSE(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed before %q", name)
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", name)
		}
	}
}

func (f *apiFixture) postWebhook(t *testing.T, srv *httptest.Server, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/hooks/payment", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+webhookKey)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSSEDeliversPaidTransition(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createOrder(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/payments/stream?orderId=%d&access_token=%s", srv.URL, id, f.token(t, buyerID, auth.RoleCustomer))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readSSE(bufio.NewReader(resp.Body))

	snap := nextSSE(t, events, "snapshot")
	assert.Contains(t, snap.data, `"status":"PENDING_PAYMENT"`)

	nextSSE(t, events, "ping")

	f.postWebhook(t, srv, `{"id":77,"content":"DH1PAY","transferAmount":250000}`)

	var ev notify.Event
	require.NoError(t, json.Unmarshal([]byte(nextSSE(t, events, "status").data), &ev))
	assert.Equal(t, id, ev.OrderID)
	assert.Equal(t, models.OrderStatusPaid, ev.Status)
	assert.Equal(t, models.SourceWebhook, ev.Source)
}

func TestStreamAuthorization(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createOrder(t)

	cases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no token", fmt.Sprintf("/api/v1/payments/stream?orderId=%d", id), "", http.StatusUnauthorized},
		{"someone else's order", fmt.Sprintf("/api/v1/payments/stream?orderId=%d", id), f.token(t, strangerID, auth.RoleCustomer), http.StatusNotFound},
		{"all orders as customer", "/api/v1/payments/stream", f.token(t, buyerID, auth.RoleCustomer), http.StatusForbidden},
		{"bad order id", "/api/v1/payments/stream?orderId=x", f.token(t, buyerID, auth.RoleCustomer), http.StatusBadRequest},
		{"ws on someone else's order", fmt.Sprintf("/api/v1/payments/ws?orderId=%d", id), f.token(t, strangerID, auth.RoleCustomer), http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tc.path, tc.token, nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestWebSocketDeliversTransitions(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createOrder(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/api/v1/payments/ws?orderId=%d&access_token=%s", id, f.token(t, buyerID, auth.RoleCustomer))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	read := func() map[string]interface{} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	snap := read()
	assert.Equal(t, "snapshot", snap["type"])

	f.postWebhook(t, srv, `{"id":78,"content":"DH1PAY","transferAmount":250000}`)

	msg := read()
	assert.Equal(t, "status", msg["type"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(id), data["orderId"])
	assert.Equal(t, "PAID", data["status"])
}

func TestWebSocketAllOrdersForStaff(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/payments/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token(t, 1, auth.RoleStaff))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	id := f.createOrder(t)
	admin := f.token(t, 1, auth.RoleAdmin)
	w := f.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/admin/orders/%d/status", id), admin, map[string]string{"status": "CANCELLED"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg struct {
		Type string       `json:"type"`
		Data notify.Event `json:"data"`
	}
	for msg.Type != "status" {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	assert.Equal(t, id, msg.Data.OrderID)
	assert.Equal(t, models.OrderStatusCancelled, msg.Data.Status)
	assert.Equal(t, models.SourceAdmin, msg.Data.Source)
}
