package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"token-portal/internal/cache"
	"token-portal/internal/domain"
	"token-portal/internal/repository"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrForbidden     = errors.New("forbidden")
)

const (
	tokenPrefix         = "sk_live_"
	tokenSecretBytes    = 32
	tokenPreviewChars   = 4
	tokenCacheKeyPrefix = "apitoken:"

	pgUniqueViolation = "23505"
)

// tokenProjection es el subconjunto del registro durable que vive en la
// cache de validación, indexado por el hash del secreto.
type tokenProjection struct {
	TokenID   string     `json:"token_id"`
	UserID    string     `json:"user_id"`
	Revoked   bool       `json:"revoked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TokenService maneja el ciclo de vida de los API tokens: emisión con
// entrega única del secreto, listado de metadatos y revocación. Mantiene
// consistentes la base durable y la cache con una escritura en dos fases;
// si la fase de cache falla el sistema queda degradado pero seguro, porque
// la validación siempre puede caer a la base durable.
type TokenService struct {
	logger        *zap.Logger
	tokens        repository.TokenRepository
	store         cache.ValidationCache
	cacheTTL      time.Duration
	cacheTimeout  time.Duration
	storeTimeout  time.Duration
	retryAttempts int
	retryBackoff  time.Duration
}

type TokenServiceOptions struct {
	CacheTTL      time.Duration
	CacheTimeout  time.Duration
	StoreTimeout  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

func NewTokenService(logger *zap.Logger, tokens repository.TokenRepository, store cache.ValidationCache, opts TokenServiceOptions) *TokenService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 500 * time.Millisecond
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &TokenService{
		logger:        logger,
		tokens:        tokens,
		store:         store,
		cacheTTL:      opts.CacheTTL,
		cacheTimeout:  opts.CacheTimeout,
		storeTimeout:  opts.StoreTimeout,
		retryAttempts: opts.RetryAttempts,
		retryBackoff:  opts.RetryBackoff,
	}
}

// Issue emite un token nuevo y devuelve el secreto en claro exactamente una
// vez; después solo existe su hash. Cada intento de insert usa un secreto
// recién generado: si un insert commitea pero la respuesta se pierde, el
// reintento no puede chocar contra su propia fila. Una colisión de hash
// (violación de unicidad) regenera el secreto y reintenta en lugar de
// fallar hacia el llamador.
func (s *TokenService) Issue(ctx context.Context, ownerID, name string, expiresAt *time.Time) (domain.APIToken, string, error) {
	var token domain.APIToken
	var secret string
	var lastErr error

	backoff := s.retryBackoff
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		plain, err := generateTokenSecret()
		if err != nil {
			return domain.APIToken{}, "", err
		}

		token = domain.APIToken{
			ID:        uuid.NewString(),
			UserID:    ownerID,
			Name:      name,
			TokenHash: HashCredential(plain),
			Preview:   tokenPreview(plain),
			ExpiresAt: expiresAt,
			Revoked:   false,
			CreatedAt: time.Now().UTC(),
		}

		opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err = s.tokens.Create(opCtx, token)
		cancel()
		if err == nil {
			secret = plain
			break
		}
		lastErr = err
		if isUniqueViolation(err) {
			// Hash duplicado: se descarta el secreto y se genera otro.
			continue
		}
		select {
		case <-ctx.Done():
			return domain.APIToken{}, "", err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if secret == "" {
		if lastErr != nil {
			return domain.APIToken{}, "", lastErr
		}
		return domain.APIToken{}, "", errors.New("token issuance exhausted retries")
	}

	s.writeProjection(ctx, token)

	return token, secret, nil
}

// List devuelve solo metadatos; ni el secreto ni un hash reversible salen
// de acá.
func (s *TokenService) List(ctx context.Context, ownerID string) ([]domain.APIToken, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.tokens.ListByUser(storeCtx, ownerID)
}

// Revoke marca el token como revocado en la base durable y reescribe la
// proyección en cache. Es idempotente; un token ya revocado no es error.
// Los administradores pueden revocar tokens ajenos.
func (s *TokenService) Revoke(ctx context.Context, tokenID, requesterID string, requesterIsAdmin bool) (domain.APIToken, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	token, err := s.tokens.GetByID(storeCtx, tokenID)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.APIToken{}, ErrTokenNotFound
		}
		return domain.APIToken{}, err
	}

	if token.UserID != requesterID && !requesterIsAdmin {
		return domain.APIToken{}, ErrForbidden
	}

	if token.Revoked {
		return token, nil
	}

	err = s.writeWithRetry(ctx, func(opCtx context.Context) error {
		return s.tokens.Revoke(opCtx, token.ID)
	})
	if err != nil {
		return domain.APIToken{}, err
	}
	token.Revoked = true

	key := tokenCacheKeyPrefix + token.TokenHash
	cacheCtx, cancel := context.WithTimeout(context.Background(), s.cacheTimeout)
	defer cancel()
	if token.ExpiredAt(time.Now().UTC()) {
		// Revocado y además expirado: la entrada ya no sirve para nada.
		if err := s.store.Delete(cacheCtx, key); err != nil && s.logger != nil {
			s.logger.Warn("delete token projection failed", zap.Error(err), zap.String("token_id", token.ID))
		}
		return token, nil
	}
	if err := s.setProjection(cacheCtx, token); err != nil && s.logger != nil {
		// Ventana de staleness acotada: la cache puede quedar con el token
		// válido hasta su TTL, pero el fallback a la base lo niega igual.
		s.logger.Warn("update token projection failed", zap.Error(err), zap.String("token_id", token.ID))
	}
	return token, nil
}

// RepopulateProjection reescribe la proyección tras un acierto en la base
// durable que no estaba en cache.
func (s *TokenService) RepopulateProjection(ctx context.Context, token domain.APIToken) {
	s.writeProjection(ctx, token)
}

func (s *TokenService) writeProjection(ctx context.Context, token domain.APIToken) {
	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.setProjection(cacheCtx, token); err != nil && s.logger != nil {
		s.logger.Warn("cache token projection failed", zap.Error(err), zap.String("token_id", token.ID))
	}
}

func (s *TokenService) setProjection(ctx context.Context, token domain.APIToken) error {
	proj := tokenProjection{
		TokenID:   token.ID,
		UserID:    token.UserID,
		Revoked:   token.Revoked,
		ExpiresAt: token.ExpiresAt,
	}
	payload, err := json.Marshal(proj)
	if err != nil {
		return err
	}

	ttl := s.cacheTTL
	if token.ExpiresAt != nil {
		until := time.Until(*token.ExpiresAt)
		if until <= 0 {
			// Ya expirado: no tiene sentido proyectarlo.
			return nil
		}
		if until < ttl {
			ttl = until
		}
	}
	return s.store.Set(ctx, tokenCacheKeyPrefix+token.TokenHash, string(payload), ttl)
}

// writeWithRetry reintenta escrituras durables con backoff. Las violaciones
// de unicidad y los registros inexistentes no se reintentan.
func (s *TokenService) writeWithRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := s.retryBackoff
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err = op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) || errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func generateTokenSecret() (string, error) {
	raw := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func tokenPreview(plain string) string {
	rest := plain[len(tokenPrefix):]
	if len(rest) > tokenPreviewChars {
		rest = rest[:tokenPreviewChars]
	}
	return tokenPrefix + rest + "..."
}

// HashCredential calcula el hash SHA-256 en hex de una credencial. Es
// determinístico a propósito: el hash es la clave de búsqueda en la base
// y en la cache.
func HashCredential(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
