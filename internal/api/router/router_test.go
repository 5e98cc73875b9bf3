package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/fisioflow/calsync/internal/credentials"
	"github.com/fisioflow/calsync/internal/http/handlers"
)

const testSecret = "router-test-secret"

type stubManager struct{}

func (stubManager) ConsentURL(ownerID string) string { return "https://example.com/auth" }

func (stubManager) Exchange(ctx context.Context, ownerID, code string, opts ...oauth2.AuthCodeOption) (*credentials.Credential, error) {
	return &credentials.Credential{OwnerID: ownerID}, nil
}

func (stubManager) Disconnect(ctx context.Context, ownerID string) error { return nil }

func (stubManager) Status(ctx context.Context, ownerID string) (bool, time.Time, error) {
	return false, time.Time{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return New(&Config{
		ConnectHandler: handlers.NewConnectHandler(stubManager{}, nil),
		WebhookHandler: handlers.NewWebhookHandler(nil),
		UserJWTSecret:  testSecret,
	})
}

func userToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealthIsPublic(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookIsPublic(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/calendar", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestCalendarAPIRequiresToken(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calendar/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCalendarAPIAcceptsSignedToken(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/status", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestOAuthCallbackIsPublic(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=c&state=user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
