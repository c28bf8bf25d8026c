package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"token-portal/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	validator *service.ValidationService,
	recorder *service.UsageRecorder,
	authH *AuthHandler,
	tokenH *TokenHandler,
	adminH *AdminHandler,
	publicH *PublicHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	auth := r.Group("/auth")
	auth.POST("/otp/request", authH.RequestOTP)
	auth.POST("/otp/verify", authH.VerifyOTP)
	auth.POST("/refresh", authH.RefreshToken)
	auth.POST("/logout", authH.Logout)

	users := r.Group("/users", JWTAuthMiddleware(jwtSvc))
	users.GET("/me", authH.Me)

	tokens := r.Group("/tokens", JWTAuthMiddleware(jwtSvc))
	tokens.POST("", tokenH.CreateToken)
	tokens.GET("", tokenH.ListTokens)
	tokens.DELETE("/:id", tokenH.RevokeToken)

	admin := r.Group("/admin", JWTAuthMiddleware(jwtSvc), RequireAdmin())
	admin.GET("/users", adminH.ListUsers)
	admin.GET("/tokens", adminH.ListTokens)
	admin.GET("/usage/logs", adminH.ListUsageLogs)

	// API protegida: cada petición pasa por el gate de API key, que
	// decide antes de despachar y registra el uso.
	api := r.Group("/api", APIKeyAuthMiddleware(validator, recorder))
	api.GET("/ping", publicH.Ping)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
