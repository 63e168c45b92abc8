package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRecordPayment_Overpayment409(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx)) // total 590

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/x/payments",
		strings.NewReader(`{"amount":"600","method":"cash"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.RecordPayment(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestRecordPayment_Created(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/x/payments",
		strings.NewReader(`{"amount":"590","method":"upi","reference":"UPI123"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("RecordPayment() error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}
}

func TestGetBill_NotFound(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("2c9a1b44-3cf1-4c5e-b80c-111111111111")

	err := h.GetBill(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestIssueBill_BadRequest(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills",
		strings.NewReader(`{"patient_id":"`+fx.patient.ID.String()+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.IssueBill(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestRefundBill_Conflict(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/x/refund", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.RefundBill(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unpaid refund, got %v", err)
	}
}
