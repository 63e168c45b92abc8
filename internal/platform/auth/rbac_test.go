package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func doWithRole(t *testing.T, role string, mw echo.MiddlewareFunc) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		ctx := context.WithValue(req.Context(), UserRoleKey, role)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	if err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he.Code
		}
		t.Fatalf("unexpected error type: %v", err)
	}
	return rec.Code
}

func TestRequireRole_Allows(t *testing.T) {
	mw := RequireRole("admin", "doctor")

	if code := doWithRole(t, "admin", mw); code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", code)
	}
	if code := doWithRole(t, "doctor", mw); code != http.StatusOK {
		t.Errorf("expected 200 for doctor, got %d", code)
	}
}

func TestRequireRole_SuperAdminBypasses(t *testing.T) {
	mw := RequireRole("doctor")
	if code := doWithRole(t, "super_admin", mw); code != http.StatusOK {
		t.Errorf("expected super_admin to pass, got %d", code)
	}
}

func TestRequireRole_Forbids(t *testing.T) {
	mw := RequireRole("admin")

	if code := doWithRole(t, "staff", mw); code != http.StatusForbidden {
		t.Errorf("expected 403 for staff, got %d", code)
	}
	if code := doWithRole(t, "", mw); code != http.StatusForbidden {
		t.Errorf("expected 403 for missing role, got %d", code)
	}
}
