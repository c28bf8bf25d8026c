package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"token-portal/internal/domain"
)

type adminFixture struct {
	router *gin.Engine
	users  *stubUserRepo
	tokens *stubTokenRepo
	usage  *stubUsageLogRepo
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	users := newStubUserRepo()
	tokens := newStubTokenRepo()
	usage := &stubUsageLogRepo{}
	handler := NewAdminHandler(logger, users, tokens, usage)

	r := gin.New()
	r.GET("/admin/users", handler.ListUsers)
	r.GET("/admin/tokens", handler.ListTokens)
	r.GET("/admin/usage/logs", handler.ListUsageLogs)

	return &adminFixture{router: r, users: users, tokens: tokens, usage: usage}
}

func (fx *adminFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminHandler_ListUsageLogs(t *testing.T) {
	fx := newAdminFixture(t)
	if err := fx.usage.Insert(context.Background(), domain.UsageLog{
		ID:         "log-1",
		Timestamp:  time.Now().UTC(),
		Method:     "GET",
		Path:       "/api/ping",
		StatusCode: 200,
	}); err != nil {
		t.Fatalf("seed usage log: %v", err)
	}

	rec := fx.get(t, "/admin/usage/logs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Logs []domain.UsageLog `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Logs) != 1 || resp.Logs[0].Path != "/api/ping" {
		t.Fatalf("unexpected logs %+v", resp.Logs)
	}
}

func TestAdminHandler_PaginationValidation(t *testing.T) {
	fx := newAdminFixture(t)

	cases := []struct {
		path string
		want int
	}{
		{"/admin/users?limit=0", http.StatusBadRequest},
		{"/admin/users?limit=-5", http.StatusBadRequest},
		{"/admin/users?limit=abc", http.StatusBadRequest},
		{"/admin/users?skip=-1", http.StatusBadRequest},
		{"/admin/users?limit=10&skip=0", http.StatusOK},
		{"/admin/tokens?skip=5", http.StatusOK},
		{"/admin/usage/logs?limit=1", http.StatusOK},
	}
	for _, tc := range cases {
		rec := fx.get(t, tc.path)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, rec.Code)
		}
	}
}
