package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]bool)}
}

func (m *memRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[tokenID], nil
}

func (m *memRevocations) Revoke(_ context.Context, tokenID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = true
	return nil
}

func TestSessionManager_IssueAndParse(t *testing.T) {
	mgr := NewSessionManager("test-secret", time.Hour, nil)
	userID := uuid.New()

	token, claims, err := mgr.Issue(userID, "doctor")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if claims.Role != "doctor" {
		t.Errorf("expected role doctor, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}

	parsed, err := mgr.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if parsed.Subject != userID.String() {
		t.Errorf("expected subject %s, got %s", userID, parsed.Subject)
	}
	if parsed.Role != "doctor" {
		t.Errorf("expected role doctor, got %s", parsed.Role)
	}
}

func TestSessionManager_RejectsWrongSecret(t *testing.T) {
	mgr := NewSessionManager("secret-one", time.Hour, nil)
	other := NewSessionManager("secret-two", time.Hour, nil)

	token, _, err := mgr.Issue(uuid.New(), "staff")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := other.Parse(token); err == nil {
		t.Error("expected parse to fail with a different secret")
	}
}

func TestSessionManager_RejectsExpired(t *testing.T) {
	mgr := NewSessionManager("test-secret", -time.Minute, nil)

	token, _, err := mgr.Issue(uuid.New(), "staff")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := mgr.Parse(token); err == nil {
		t.Error("expected parse to fail for an expired token")
	}
}

func runMiddleware(mgr *SessionManager, req *http.Request) (int, string) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	handler := mgr.Middleware()(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he.Code, gotUser
		}
		return http.StatusInternalServerError, gotUser
	}
	return rec.Code, gotUser
}

func TestMiddleware_BearerToken(t *testing.T) {
	mgr := NewSessionManager("test-secret", time.Hour, nil)
	userID := uuid.New()
	token, _, _ := mgr.Issue(userID, "admin")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	code, gotUser := runMiddleware(mgr, req)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if gotUser != userID.String() {
		t.Errorf("expected user id %s in context, got %s", userID, gotUser)
	}
}

func TestMiddleware_SessionCookie(t *testing.T) {
	mgr := NewSessionManager("test-secret", time.Hour, nil)
	token, _, _ := mgr.Issue(uuid.New(), "staff")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})

	code, _ := runMiddleware(mgr, req)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	mgr := NewSessionManager("test-secret", time.Hour, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	code, _ := runMiddleware(mgr, req)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestMiddleware_RevokedToken(t *testing.T) {
	store := newMemRevocations()
	mgr := NewSessionManager("test-secret", time.Hour, store)
	token, claims, _ := mgr.Issue(uuid.New(), "staff")

	if err := mgr.Revoke(context.Background(), claims); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	code, _ := runMiddleware(mgr, req)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", code)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := DevAuthMiddleware()(func(c echo.Context) error {
		if UserIDFromContext(c.Request().Context()) != "dev-user" {
			t.Error("expected dev-user in context")
		}
		if RoleFromContext(c.Request().Context()) != "admin" {
			t.Error("expected admin role in context")
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
