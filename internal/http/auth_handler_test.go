package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"token-portal/internal/cache"
	"token-portal/internal/domain"
	"token-portal/internal/service"
)

type stubUserRepo struct {
	mu      sync.Mutex
	byID    map[string]domain.User
	byEmail map[string]domain.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]domain.User),
	}
}

func (r *stubUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[user.ID] = user
	r.byEmail[user.Email] = user
	return nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *stubUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.LastLoginAt = &at
	r.byID[id] = user
	r.byEmail[user.Email] = user
	return nil
}

func (r *stubUserRepo) List(_ context.Context, _, _ int) ([]domain.User, error) {
	return nil, nil
}

type stubEmailSender struct {
	mu       sync.Mutex
	lastCode string
	lastTo   string
}

func (s *stubEmailSender) SendLoginOTP(_ context.Context, toEmail, code string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTo = toEmail
	s.lastCode = code
	return nil
}

func (s *stubEmailSender) sentCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

type allowAllOTPLimiter struct{}

func (allowAllOTPLimiter) Allow(string) bool { return true }

type authFixture struct {
	router *gin.Engine
	users  *stubUserRepo
	sender *stubEmailSender
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	users := newStubUserRepo()
	sender := &stubEmailSender{}
	otpSvc := service.NewOTPService(logger, users, cache.NewMemoryCache(), sender, allowAllOTPLimiter{}, service.OTPServiceOptions{})
	jwtSvc := newTestJWTService()
	handler := NewAuthHandler(logger, otpSvc, jwtSvc, users)

	r := gin.New()
	r.POST("/auth/otp/request", handler.RequestOTP)
	r.POST("/auth/otp/verify", handler.VerifyOTP)
	r.POST("/auth/refresh", handler.RefreshToken)
	r.POST("/auth/logout", handler.Logout)
	r.GET("/users/me", JWTAuthMiddleware(jwtSvc), handler.Me)

	return &authFixture{router: r, users: users, sender: sender}
}

func (fx *authFixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthHandler_OTPLoginFlow(t *testing.T) {
	fx := newAuthFixture(t)

	rec := fx.postJSON(t, "/auth/otp/request", gin.H{"email": "user@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("request otp: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	code := fx.sender.sentCode()
	if code == "" {
		t.Fatal("expected a code to be sent")
	}

	rec = fx.postJSON(t, "/auth/otp/verify", gin.H{"email": "user@example.com", "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify otp: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var verifyResp struct {
		User   domain.User       `json:"user"`
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verifyResp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if verifyResp.User.Email != "user@example.com" {
		t.Fatalf("unexpected user %+v", verifyResp.User)
	}
	if verifyResp.Tokens.AccessToken == "" || verifyResp.Tokens.RefreshToken == "" {
		t.Fatal("expected session tokens in verify response")
	}

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+verifyResp.Tokens.AccessToken)
	meRec := httptest.NewRecorder()
	fx.router.ServeHTTP(meRec, req)
	if meRec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (%s)", meRec.Code, meRec.Body.String())
	}

	rec = fx.postJSON(t, "/auth/refresh", gin.H{"refresh_token": verifyResp.Tokens.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var refreshResp struct {
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &refreshResp); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}

	rec = fx.postJSON(t, "/auth/logout", gin.H{"refresh_token": refreshResp.Tokens.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}
	rec = fx.postJSON(t, "/auth/refresh", gin.H{"refresh_token": refreshResp.Tokens.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rec.Code)
	}
}

func TestAuthHandler_VerifyDoesNotRevealFailureCause(t *testing.T) {
	fx := newAuthFixture(t)

	rec := fx.postJSON(t, "/auth/otp/request", gin.H{"email": "user@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("request otp: expected 200, got %d", rec.Code)
	}

	wrong := "00000"
	if fx.sender.sentCode() == wrong {
		wrong = "00001"
	}
	wrongCode := fx.postJSON(t, "/auth/otp/verify", gin.H{"email": "user@example.com", "code": wrong})
	noChallenge := fx.postJSON(t, "/auth/otp/verify", gin.H{"email": "nobody@example.com", "code": "12345"})

	if wrongCode.Code != http.StatusBadRequest || noChallenge.Code != http.StatusBadRequest {
		t.Fatalf("expected 400/400, got %d/%d", wrongCode.Code, noChallenge.Code)
	}
	if wrongCode.Body.String() != noChallenge.Body.String() {
		t.Fatalf("mismatch and missing challenge must be indistinguishable: %q vs %q",
			wrongCode.Body.String(), noChallenge.Body.String())
	}
}

func TestAuthHandler_RequestOTPRejectsBadEmail(t *testing.T) {
	fx := newAuthFixture(t)
	rec := fx.postJSON(t, "/auth/otp/request", gin.H{"email": "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuthHandler_VerifyConsumesChallenge(t *testing.T) {
	fx := newAuthFixture(t)

	rec := fx.postJSON(t, "/auth/otp/request", gin.H{"email": "user@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("request otp: expected 200, got %d", rec.Code)
	}
	code := fx.sender.sentCode()

	first := fx.postJSON(t, "/auth/otp/verify", gin.H{"email": "user@example.com", "code": code})
	if first.Code != http.StatusOK {
		t.Fatalf("first verify: expected 200, got %d", first.Code)
	}
	second := fx.postJSON(t, "/auth/otp/verify", gin.H{"email": "user@example.com", "code": code})
	if second.Code != http.StatusBadRequest {
		t.Fatalf("second verify: expected 400, got %d", second.Code)
	}
}
