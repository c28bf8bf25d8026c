package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"token-portal/internal/cache"
	"token-portal/internal/config"
	"token-portal/internal/db"
	"token-portal/internal/email"
	apihttp "token-portal/internal/http"
	"token-portal/internal/repository"
	"token-portal/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)
	tokenRepo := repository.NewPgTokenRepository(pool)
	usageRepo := repository.NewPgUsageLogRepository(pool)

	// Sin Redis el servicio sigue andando con cache en memoria; vale para
	// desarrollo y para la escala single-instance del portal.
	validationCache := cache.NewMemoryCache()
	var otpLimiter service.OTPRateLimiter
	var refreshStore service.RefreshTokenStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory cache", zap.Error(err))
		} else {
			validationCache = cache.NewRedisCache(redisClient)
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, cfg.OTPTTL(), cfg.OTPMaxPerWindow)
			refreshStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}
	if otpLimiter == nil {
		otpLimiter = service.NewOTPRateLimiter(cfg.OTPTTL(), cfg.OTPMaxPerWindow)
	}

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		refreshStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	otpSvc := service.NewOTPService(logger, userRepo, validationCache, emailSender, otpLimiter, service.OTPServiceOptions{
		TTL:          cfg.OTPTTL(),
		CacheTimeout: cfg.CacheTimeout(),
		StoreTimeout: cfg.StoreTimeout(),
	})
	tokenSvc := service.NewTokenService(logger, tokenRepo, validationCache, service.TokenServiceOptions{
		CacheTTL:      cfg.TokenCacheTTL(),
		CacheTimeout:  cfg.CacheTimeout(),
		StoreTimeout:  cfg.StoreTimeout(),
		RetryAttempts: cfg.StoreRetryAttempts,
		RetryBackoff:  cfg.StoreRetryBackoff(),
	})
	validationSvc := service.NewValidationService(logger, tokenRepo, validationCache, tokenSvc, service.ValidationServiceOptions{
		CacheTimeout: cfg.CacheTimeout(),
		StoreTimeout: cfg.StoreTimeout(),
	})
	usageRecorder := service.NewUsageRecorder(logger, usageRepo, cfg.UsageQueueSize, cfg.StoreTimeout())
	defer usageRecorder.Close()

	authHandler := apihttp.NewAuthHandler(logger, otpSvc, jwtSvc, userRepo)
	tokenHandler := apihttp.NewTokenHandler(logger, tokenSvc)
	adminHandler := apihttp.NewAdminHandler(logger, userRepo, tokenRepo, usageRepo)
	publicHandler := apihttp.NewPublicHandler()
	router := apihttp.NewRouter(logger, jwtSvc, validationSvc, usageRecorder, authHandler, tokenHandler, adminHandler, publicHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
