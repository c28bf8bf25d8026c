package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PublicHandler sirve los endpoints detrás del gate de API key.
type PublicHandler struct{}

func NewPublicHandler() *PublicHandler {
	return &PublicHandler{}
}

// Ping maneja GET /api/ping. Si llegó acá, el middleware ya validó la
// credencial y registró el uso.
func (h *PublicHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  "pong",
		"token_id": APIKeyTokenID(c),
		"user_id":  APIKeyUserID(c),
	})
}
