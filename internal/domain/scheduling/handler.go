package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicrm/clinicrm/internal/platform/auth"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – staff and above
	readGroup := api.Group("", auth.RequireRole("admin", "doctor", "staff"))
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/doctors/:id/slots", h.GetAvailableSlots)
	readGroup.GET("/doctors/:id/schedule", h.GetDoctorSchedule)

	// Write endpoints – staff and above
	writeGroup := api.Group("", auth.RequireRole("admin", "doctor", "staff"))
	writeGroup.POST("/appointments", h.BookAppointment)
	writeGroup.PUT("/appointments/:id/reschedule", h.RescheduleAppointment)
	writeGroup.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	writeGroup.POST("/appointments/:id/cancel", h.CancelAppointment)
	writeGroup.POST("/appointments/:id/complete", h.CompleteAppointment)
	writeGroup.POST("/appointments/:id/no-show", h.MarkNoShow)

	// Statistics – admin only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/appointments/statistics", h.GetStatistics)
}

// domainError maps service errors onto HTTP status codes. Booking
// collisions carry the blocking appointment id so clients can offer an
// alternative.
func domainError(err error) error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"error":                      "the requested time slot is already booked",
			"conflicting_appointment_id": conflict.ConflictingID,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Book(c.Request().Context(), &a); err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	f := Filter{
		Status:    c.QueryParam("status"),
		VisitType: c.QueryParam("visit_type"),
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = id
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		f.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		f.To = t
	}

	page := pagination.FromContext(c)
	appts, total, err := h.svc.List(c.Request().Context(), f, page)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list appointments")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, page.Limit, page.Offset))
}

type rescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.StartTime, req.DurationMinutes)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) statusChange(c echo.Context, change func(c echo.Context, id uuid.UUID) (*Appointment, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := change(c, id)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.statusChange(c, func(c echo.Context, id uuid.UUID) (*Appointment, error) {
		return h.svc.Confirm(c.Request().Context(), id)
	})
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.statusChange(c, func(c echo.Context, id uuid.UUID) (*Appointment, error) {
		return h.svc.Cancel(c.Request().Context(), id)
	})
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.statusChange(c, func(c echo.Context, id uuid.UUID) (*Appointment, error) {
		return h.svc.Complete(c.Request().Context(), id)
	})
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.statusChange(c, func(c echo.Context, id uuid.UUID) (*Appointment, error) {
		return h.svc.MarkNoShow(c.Request().Context(), id)
	})
}

func parseDay(c echo.Context) (time.Time, error) {
	v := c.QueryParam("date")
	if v == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	day, err := parseDay(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute slots")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"doctor_id": doctorID,
		"date":      day.Format("2006-01-02"),
		"slots":     slots,
	})
}

func (h *Handler) GetDoctorSchedule(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	day, err := parseDay(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	appts, err := h.svc.DoctorSchedule(c.Request().Context(), doctorID, day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load schedule")
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) GetStatistics(c echo.Context) error {
	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = t
	}
	stats, err := h.svc.Stats(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute statistics")
	}
	return c.JSON(http.StatusOK, stats)
}
