package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"token-portal/internal/repository"
)

// AdminHandler expone listados de solo lectura para administradores:
// usuarios, tokens y registros de uso.
type AdminHandler struct {
	logger *zap.Logger
	users  repository.UserRepository
	tokens repository.TokenRepository
	usage  repository.UsageLogRepository
}

func NewAdminHandler(logger *zap.Logger, users repository.UserRepository, tokens repository.TokenRepository, usage repository.UsageLogRepository) *AdminHandler {
	return &AdminHandler{
		logger: logger,
		users:  users,
		tokens: tokens,
		usage:  usage,
	}
}

// ListUsers maneja GET /admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, offset, ok := paginationParams(c)
	if !ok {
		return
	}
	users, err := h.users.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("admin list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// ListTokens maneja GET /admin/tokens.
func (h *AdminHandler) ListTokens(c *gin.Context) {
	limit, offset, ok := paginationParams(c)
	if !ok {
		return
	}
	tokens, err := h.tokens.ListAll(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("admin list tokens failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// ListUsageLogs maneja GET /admin/usage/logs.
func (h *AdminHandler) ListUsageLogs(c *gin.Context) {
	limit, offset, ok := paginationParams(c)
	if !ok {
		return
	}
	logs, err := h.usage.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("admin list usage logs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list usage logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func paginationParams(c *gin.Context) (limit, offset int, ok bool) {
	limit = 100
	offset = 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be positive"})
			return 0, 0, false
		}
		limit = n
	}
	if raw := c.Query("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "skip cannot be negative"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
