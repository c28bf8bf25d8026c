package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"token-portal/internal/cache"
	"token-portal/internal/repository"
)

// DenyReason clasifica por qué se negó una credencial.
type DenyReason string

const (
	DenyNotFound    DenyReason = "not_found"
	DenyRevoked     DenyReason = "revoked"
	DenyExpired     DenyReason = "expired"
	DenyUnavailable DenyReason = "unavailable"
)

// Decision es el resultado de validar una credencial presentada. TokenID y
// UserID quedan vacíos cuando la credencial no pudo resolverse.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	TokenID string
	UserID  string
}

// ValidationService decide por petición si una credencial presentada
// permite el acceso. Camino rápido por cache, fallback autoritativo a la
// base durable en caso de miss; la expiración se reevalúa siempre al
// momento de validar, nunca se confía en el estado con que se escribió
// la proyección.
type ValidationService struct {
	logger       *zap.Logger
	tokens       repository.TokenRepository
	store        cache.ValidationCache
	lifecycle    *TokenService
	cacheTimeout time.Duration
	storeTimeout time.Duration
}

type ValidationServiceOptions struct {
	CacheTimeout time.Duration
	StoreTimeout time.Duration
}

func NewValidationService(logger *zap.Logger, tokens repository.TokenRepository, store cache.ValidationCache, lifecycle *TokenService, opts ValidationServiceOptions) *ValidationService {
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 500 * time.Millisecond
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	return &ValidationService{
		logger:       logger,
		tokens:       tokens,
		store:        store,
		lifecycle:    lifecycle,
		cacheTimeout: opts.CacheTimeout,
		storeTimeout: opts.StoreTimeout,
	}
}

// Validate nunca reintenta: cualquier error en el camino de validación es
// terminal para esa petición y se traduce en una negación.
func (s *ValidationService) Validate(ctx context.Context, credential string) Decision {
	if credential == "" {
		return Decision{Reason: DenyNotFound}
	}
	hash := HashCredential(credential)
	key := tokenCacheKeyPrefix + hash
	now := time.Now().UTC()

	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	raw, err := s.store.Get(cacheCtx, key)
	cancel()
	switch {
	case err == nil:
		var proj tokenProjection
		if jsonErr := json.Unmarshal([]byte(raw), &proj); jsonErr != nil {
			// Entrada corrupta: se borra y se resuelve contra la base.
			if s.logger != nil {
				s.logger.Warn("corrupt token projection", zap.Error(jsonErr))
			}
			delCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
			_ = s.store.Delete(delCtx, key)
			cancel()
			return s.validateFromStore(ctx, hash, now)
		}
		if proj.Revoked {
			return Decision{Reason: DenyRevoked, TokenID: proj.TokenID, UserID: proj.UserID}
		}
		if proj.ExpiresAt != nil && !now.Before(*proj.ExpiresAt) {
			delCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
			_ = s.store.Delete(delCtx, key)
			cancel()
			return Decision{Reason: DenyExpired, TokenID: proj.TokenID, UserID: proj.UserID}
		}
		s.markUsed(proj.TokenID)
		return Decision{Allowed: true, TokenID: proj.TokenID, UserID: proj.UserID}

	case errors.Is(err, cache.ErrMiss):
		return s.validateFromStore(ctx, hash, now)

	default:
		// Cache caída: el fallback durable mantiene la decisión correcta.
		if s.logger != nil {
			s.logger.Warn("validation cache unavailable", zap.Error(err))
		}
		return s.validateFromStore(ctx, hash, now)
	}
}

func (s *ValidationService) validateFromStore(ctx context.Context, hash string, now time.Time) Decision {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	token, err := s.tokens.GetByHash(storeCtx, hash)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Decision{Reason: DenyNotFound}
		}
		if s.logger != nil {
			s.logger.Error("token store lookup failed", zap.Error(err))
		}
		return Decision{Reason: DenyUnavailable}
	}

	if token.Revoked {
		return Decision{Reason: DenyRevoked, TokenID: token.ID, UserID: token.UserID}
	}
	if token.ExpiredAt(now) {
		return Decision{Reason: DenyExpired, TokenID: token.ID, UserID: token.UserID}
	}

	// Repoblado oportunista: cubre fallas de población y arranques fríos.
	if s.lifecycle != nil {
		s.lifecycle.RepopulateProjection(ctx, token)
	}
	s.markUsed(token.ID)
	return Decision{Allowed: true, TokenID: token.ID, UserID: token.UserID}
}

// markUsed actualiza last_used_at fuera del camino crítico; si se pierde
// una actualización no pasa nada.
func (s *ValidationService) markUsed(tokenID string) {
	if tokenID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		defer cancel()
		if err := s.tokens.UpdateLastUsed(ctx, tokenID, time.Now().UTC()); err != nil && s.logger != nil {
			s.logger.Warn("update last used failed", zap.Error(err), zap.String("token_id", tokenID))
		}
	}()
}
