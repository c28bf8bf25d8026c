package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"token-portal/internal/domain"
	"token-portal/internal/service"
)

// TokenHandler mantiene dependencias para los endpoints de API tokens.
type TokenHandler struct {
	logger    *zap.Logger
	tokenServ *service.TokenService
}

func NewTokenHandler(logger *zap.Logger, tokenServ *service.TokenService) *TokenHandler {
	return &TokenHandler{
		logger:    logger,
		tokenServ: tokenServ,
	}
}

// CreateToken maneja POST /tokens. El secreto en claro viaja solo en esta
// respuesta; ninguna otra operación lo devuelve.
func (h *TokenHandler) CreateToken(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create token request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, secret, err := h.tokenServ.Issue(c.Request.Context(), claims.UserID, req.Name, req.ExpiresAt)
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create api token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":     token,
		"api_token": secret,
		"message":   "Store this token now. It will not be shown again.",
	})
}

// ListTokens maneja GET /tokens.
func (h *TokenHandler) ListTokens(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	tokens, err := h.tokenServ.List(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("list tokens failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list api tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// RevokeToken maneja DELETE /tokens/:id.
func (h *TokenHandler) RevokeToken(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	tokenID := c.Param("id")
	token, err := h.tokenServ.Revoke(c.Request.Context(), tokenID, claims.UserID, claims.Role == domain.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "api token not found"})
			return
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "you do not own this token"})
			return
		default:
			h.logger.Error("revoke token failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke api token"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
