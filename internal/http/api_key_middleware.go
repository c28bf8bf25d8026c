package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"token-portal/internal/domain"
	"token-portal/internal/service"
)

const (
	apiKeyHeader = "X-API-Key"

	apiKeyTokenIDKey = "api_key_token_id"
	apiKeyUserIDKey  = "api_key_user_id"
)

// APIKeyAuthMiddleware protege la API pública: valida la credencial del
// header antes de despachar el handler y emite exactamente un registro de
// uso por petición, permitida o negada. El registro nunca bloquea la
// respuesta.
func APIKeyAuthMiddleware(validator *service.ValidationService, recorder *service.UsageRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		key := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			c.Abort()
			recordUsage(c, recorder, start, service.Decision{Reason: service.DenyNotFound}, "api key missing")
			return
		}

		decision := validator.Validate(c.Request.Context(), key)
		if !decision.Allowed {
			status, msg := denialResponse(decision.Reason)
			c.JSON(status, gin.H{"error": msg})
			c.Abort()
			recordUsage(c, recorder, start, decision, msg)
			return
		}

		c.Set(apiKeyTokenIDKey, decision.TokenID)
		c.Set(apiKeyUserIDKey, decision.UserID)
		c.Next()

		recordUsage(c, recorder, start, decision, "")
	}
}

func denialResponse(reason service.DenyReason) (int, string) {
	switch reason {
	case service.DenyRevoked:
		return http.StatusForbidden, "api key has been revoked"
	case service.DenyExpired:
		return http.StatusForbidden, "api key has expired"
	case service.DenyUnavailable:
		return http.StatusServiceUnavailable, "validation temporarily unavailable"
	default:
		return http.StatusUnauthorized, "invalid api key"
	}
}

func recordUsage(c *gin.Context, recorder *service.UsageRecorder, start time.Time, decision service.Decision, errMsg string) {
	if recorder == nil {
		return
	}
	entry := domain.UsageLog{
		Timestamp:    start.UTC(),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		StatusCode:   c.Writer.Status(),
		LatencyMs:    time.Since(start).Milliseconds(),
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		ErrorMessage: errMsg,
	}
	if decision.TokenID != "" {
		tokenID := decision.TokenID
		entry.TokenID = &tokenID
	}
	if decision.UserID != "" {
		userID := decision.UserID
		entry.UserID = &userID
	}
	recorder.Record(entry)
}

// APIKeyTokenID devuelve el id del token validado para la petición actual.
func APIKeyTokenID(c *gin.Context) string {
	return c.GetString(apiKeyTokenIDKey)
}

// APIKeyUserID devuelve el id del dueño del token validado.
func APIKeyUserID(c *gin.Context) string {
	return c.GetString(apiKeyUserIDKey)
}
