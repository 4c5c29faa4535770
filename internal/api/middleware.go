package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// Authenticate resolves the bearer token into an identity. Browsers cannot
// set headers on EventSource or WebSocket requests, so access_token in the
// query string is accepted as well.
func Authenticate(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if scheme, value, ok := splitAuthorization(c.GetHeader("Authorization")); ok && strings.EqualFold(scheme, "Bearer") {
			raw = value
		}
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			abort(c, http.StatusUnauthorized, "Missing token")
			return
		}

		id, err := tokens.Parse(raw)
		if err != nil {
			util.GetLogger().Debug("Rejected token", zap.Error(err))
			abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireCapability rejects identities whose role lacks capability
func RequireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !id.Can(capability) {
			util.GetLogger().Info("Permission denied",
				zap.Int64("user_id", id.UserID),
				zap.String("capability", string(capability)))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":               "Insufficient permission",
				"required_permission": capability,
			})
			return
		}
		c.Next()
	}
}

// RequireWebhookKey checks the provider credential before the body is read.
// The key comes from "Authorization: Bearer|Apikey <key>" or X-Api-Key.
func RequireWebhookKey(keys []string) gin.HandlerFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(c *gin.Context) {
		presented := ""
		if scheme, value, ok := splitAuthorization(c.GetHeader("Authorization")); ok &&
			(strings.EqualFold(scheme, "Bearer") || strings.EqualFold(scheme, "Apikey")) {
			presented = value
		}
		if presented == "" {
			presented = strings.TrimSpace(c.GetHeader("X-Api-Key"))
		}

		if presented == "" || !matchesAny(accepted, []byte(presented)) {
			util.WebhookNotificationsTotal.WithLabelValues("unauthorized").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid credential"})
			return
		}
		c.Next()
	}
}

func matchesAny(accepted [][]byte, presented []byte) bool {
	found := 0
	for _, k := range accepted {
		found |= subtle.ConstantTimeCompare(k, presented)
	}
	return found == 1
}

func splitAuthorization(header string) (scheme, value string, ok bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
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
