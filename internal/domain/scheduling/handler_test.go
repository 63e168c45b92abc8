package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestBookAppointment_Conflict409(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	first := &Appointment{
		PatientID:       fx.patient.ID,
		DoctorID:        fx.doctor.ID,
		StartTime:       nextWorkday(10, 0),
		DurationMinutes: 30,
	}
	if err := fx.svc.Book(context.Background(), first); err != nil {
		t.Fatalf("Book() first: %v", err)
	}

	e := echo.New()
	body := fmt.Sprintf(`{"patient_id":%q,"doctor_id":%q,"start_time":%q,"duration_minutes":30}`,
		fx.patient.ID, fx.doctor.ID, nextWorkday(10, 15).Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.BookAppointment(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}

	msg, ok := httpErr.Message.(map[string]any)
	if !ok {
		t.Fatalf("expected structured conflict message, got %T", httpErr.Message)
	}
	if msg["conflicting_appointment_id"] != first.ID {
		t.Errorf("expected conflicting id %s, got %v", first.ID, msg["conflicting_appointment_id"])
	}
}

func TestBookAppointment_Created(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	e := echo.New()
	body := fmt.Sprintf(`{"patient_id":%q,"doctor_id":%q,"start_time":%q}`,
		fx.patient.ID, fx.doctor.ID, nextWorkday(10, 0).Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.BookAppointment(e.NewContext(req, rec)); err != nil {
		t.Fatalf("BookAppointment() error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
}

func TestBookAppointment_BadPayload(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(`{"start_time":"not-a-time"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.BookAppointment(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGetAppointment_InvalidID(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.GetAppointment(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGetAvailableSlots(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.svc)

	day := nextWorkday(0, 0)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/x/slots?date="+day.Format("2006-01-02"), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fx.doctor.ID.String())

	if err := h.GetAvailableSlots(c); err != nil {
		t.Fatalf("GetAvailableSlots() error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Slots []Slot `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Slots) != 18 {
		t.Errorf("expected 18 slots, got %d", len(resp.Slots))
	}
}
