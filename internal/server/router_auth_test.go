package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/accounts"
	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeAccountsService struct {
	validToken string
	userID     string
}

func (f *fakeAccountsService) Register(_ context.Context, email, _, displayName string) (accounts.Credentials, error) {
	return accounts.Credentials{
		User:  accounts.User{UserID: f.userID, Email: email, DisplayName: displayName},
		Token: f.validToken,
	}, nil
}

func (f *fakeAccountsService) Login(_ context.Context, email, password string) (accounts.Credentials, error) {
	if password != "correct-horse" {
		return accounts.Credentials{}, accounts.ErrInvalidCredentials
	}
	return accounts.Credentials{
		User:  accounts.User{UserID: f.userID, Email: email},
		Token: f.validToken,
	}, nil
}

func (f *fakeAccountsService) Logout(context.Context, string) error {
	return nil
}

func (f *fakeAccountsService) Resolve(_ context.Context, token string) (string, error) {
	if token != f.validToken {
		return "", accounts.ErrInvalidSession
	}
	return f.userID, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sync.Document{}, &sync.Backup{}, &sync.StorageStats{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	syncService, err := sync.NewService(sync.ServiceConfig{
		Database:   db,
		IDProvider: sync.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct sync service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts: &fakeAccountsService{validToken: "good-token", userID: "user-1"},
		Sync:     syncService,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func TestProtectedRouteRejectsMissingAuthorization(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/sync/stats", nil)
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRouteRejectsUnknownToken(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/sync/stats", nil)
	request.Header.Set("Authorization", "Bearer bad-token")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRouteResolvesBearerToken(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/sync/stats", nil)
	request.Header.Set("Authorization", "Bearer good-token")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), `"threadCount":0`) {
		t.Fatalf("unexpected stats body: %s", recorder.Body.String())
	}
}

func TestRegisterEndpointReturnsCredentials(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	body := `{"email":"a@example.com","password":"correct-horse","displayName":"A"}`
	request := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), `"token":"good-token"`) {
		t.Fatalf("unexpected register body: %s", recorder.Body.String())
	}
}

func TestLoginEndpointRejectsBadPassword(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	body := `{"email":"a@example.com","password":"wrong"}`
	request := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestCORSPreflightAllowsConfiguredMethods(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/sync", nil)
	request.Header.Set("Origin", "https://editor.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content status, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHealthEndpointReportsOK(t *testing.T) {
	handler := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d", recorder.Code)
	}
}
