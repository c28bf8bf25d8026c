package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"token-portal/internal/cache"
	"token-portal/internal/domain"
	"token-portal/internal/email"
	"token-portal/internal/repository"
)

var (
	ErrOTPNotFound      = errors.New("otp not found")
	ErrOTPMismatch      = errors.New("otp mismatch")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrRateLimited      = errors.New("rate limited")
	ErrEmailSendFailure = errors.New("email send failed")
	ErrUserInactive     = errors.New("user inactive")
)

const otpCodeLength = 5

const otpKeyPrefix = "otp:"

// OTPService emite y verifica desafíos OTP por email. El desafío vive
// solo en la cache de validación, con TTL como único mecanismo de
// expiración; consumirlo lo borra, así no hace falta flag de usado.
type OTPService struct {
	logger       *zap.Logger
	users        repository.UserRepository
	store        cache.ValidationCache
	emailSender  email.Sender
	limiter      OTPRateLimiter
	ttl          time.Duration
	cacheTimeout time.Duration
	storeTimeout time.Duration
}

type OTPServiceOptions struct {
	TTL          time.Duration
	CacheTimeout time.Duration
	StoreTimeout time.Duration
}

func NewOTPService(logger *zap.Logger, users repository.UserRepository, store cache.ValidationCache, emailSender email.Sender, limiter OTPRateLimiter, opts OTPServiceOptions) *OTPService {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 500 * time.Millisecond
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	if limiter == nil {
		limiter = NewOTPRateLimiter(opts.TTL, 3)
	}
	return &OTPService{
		logger:       logger,
		users:        users,
		store:        store,
		emailSender:  emailSender,
		limiter:      limiter,
		ttl:          opts.TTL,
		cacheTimeout: opts.CacheTimeout,
		storeTimeout: opts.StoreTimeout,
	}
}

// RequestChallenge genera un código nuevo para el email, lo guarda hasheado
// en la cache (pisando cualquier desafío previo) y lo envía por correo.
// El usuario se crea en la primera solicitud si no existe.
func (s *OTPService) RequestChallenge(ctx context.Context, emailAddr string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}

	if s.limiter != nil && !s.limiter.Allow(emailAddr) {
		return domain.User{}, ErrRateLimited
	}

	user, err := s.getOrCreateUser(ctx, emailAddr)
	if err != nil {
		return domain.User{}, err
	}

	code, hash, err := generateOTP()
	if err != nil {
		return domain.User{}, err
	}
	expiresAt := time.Now().UTC().Add(s.ttl)

	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	err = s.store.Set(cacheCtx, otpKeyPrefix+emailAddr, hash, s.ttl)
	cancel()
	if err != nil {
		return domain.User{}, err
	}

	if s.emailSender == nil {
		return domain.User{}, ErrEmailSendFailure
	}
	if err := s.emailSender.SendLoginOTP(ctx, emailAddr, code, expiresAt); err != nil {
		if s.logger != nil {
			s.logger.Warn("send login otp failed", zap.Error(err), zap.String("email", emailAddr))
		}
		// Sin entrega no hay desafío utilizable; se limpia la entrada.
		cleanCtx, cancel := context.WithTimeout(context.Background(), s.cacheTimeout)
		_ = s.store.Delete(cleanCtx, otpKeyPrefix+emailAddr)
		cancel()
		return domain.User{}, ErrEmailSendFailure
	}

	return user, nil
}

// VerifyChallenge compara el código contra el hash guardado. Ausencia y
// expiración son indistinguibles (ErrOTPNotFound). Un código equivocado
// no borra la entrada; el acierto la consume atómicamente.
func (s *OTPService) VerifyChallenge(ctx context.Context, emailAddr, code string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	code = strings.TrimSpace(code)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	if !isValidOTPCode(code) {
		return domain.User{}, ErrOTPMismatch
	}

	key := otpKeyPrefix + emailAddr
	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	stored, err := s.store.Get(cacheCtx, key)
	cancel()
	if errors.Is(err, cache.ErrMiss) {
		return domain.User{}, ErrOTPNotFound
	}
	if err != nil {
		return domain.User{}, err
	}

	if !verifyOTP(code, stored) {
		return domain.User{}, ErrOTPMismatch
	}

	// Borrado condicional: si otra verificación concurrente ya consumió el
	// desafío, o se pidió uno nuevo entre medio, esta falla.
	cacheCtx, cancel = context.WithTimeout(ctx, s.cacheTimeout)
	consumed, err := s.store.CompareAndDelete(cacheCtx, key, stored)
	cancel()
	if err != nil {
		return domain.User{}, err
	}
	if !consumed {
		return domain.User{}, ErrOTPNotFound
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	user, err := s.users.GetByEmail(storeCtx, emailAddr)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrOTPNotFound
		}
		return domain.User{}, err
	}
	if !user.IsActive {
		return domain.User{}, ErrUserInactive
	}

	now := time.Now().UTC()
	storeCtx, cancel = context.WithTimeout(context.Background(), s.storeTimeout)
	if err := s.users.UpdateLastLogin(storeCtx, user.ID, now); err != nil && s.logger != nil {
		s.logger.Warn("update last login failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	cancel()
	user.LastLoginAt = &now

	return user, nil
}

func (s *OTPService) getOrCreateUser(ctx context.Context, emailAddr string) (domain.User, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.GetByEmail(storeCtx, emailAddr)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	user = domain.User{
		ID:        uuid.NewString(),
		Email:     emailAddr,
		Role:      domain.RoleUser,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.Create(storeCtx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func generateOTP() (string, string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return "", "", err
	}
	code := fmt.Sprintf("%05d", n.Int64())

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	saltStr := base64.StdEncoding.EncodeToString(salt)
	hashBytes := sha256.Sum256([]byte(saltStr + ":" + code))
	hash := base64.StdEncoding.EncodeToString(hashBytes[:])

	return code, saltStr + ":" + hash, nil
}

func verifyOTP(code, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 2 {
		return false
	}
	saltStr := parts[0]
	expectedHash := parts[1]
	hashBytes := sha256.Sum256([]byte(saltStr + ":" + code))
	hash := base64.StdEncoding.EncodeToString(hashBytes[:])
	return subtle.ConstantTimeCompare([]byte(hash), []byte(expectedHash)) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidOTPCode(code string) bool {
	if len(code) != otpCodeLength {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
