package billing

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
	readGroup.GET("/bills", h.ListBills)
	readGroup.GET("/bills/:id", h.GetBill)
	readGroup.GET("/bills/:id/payments", h.ListPayments)
	readGroup.GET("/visits/:id/bill", h.GetBillByVisit)
	readGroup.GET("/patients/:id/balance", h.GetOutstandingBalance)
	readGroup.GET("/patients/:id/packages", h.ListPatientPackages)
	readGroup.GET("/packages", h.ListPackages)

	// Money handling – staff and above
	writeGroup := api.Group("", auth.RequireRole("admin", "staff"))
	writeGroup.POST("/bills", h.IssueBill)
	writeGroup.POST("/bills/:id/payments", h.RecordPayment)
	writeGroup.POST("/packages/:id/purchase", h.PurchasePackage)
	writeGroup.POST("/patient-packages/:id/use", h.UseSession)

	// Destructive and administrative – admin only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/bills/:id/refund", h.RefundBill)
	adminGroup.POST("/bills/:id/cancel", h.CancelBill)
	adminGroup.POST("/packages", h.CreatePackage)
	adminGroup.PUT("/packages/:id", h.UpdatePackage)
	adminGroup.GET("/billing/revenue", h.GetRevenue)
}

// domainError maps billing errors onto HTTP status codes. Overpayment and
// state violations are conflicts with the bill's current state.
func domainError(err error) error {
	switch {
	case errors.Is(err, ErrOverpayment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBillState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBillNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	case errors.Is(err, ErrPackageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "package not found")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) IssueBill(c echo.Context) error {
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.IssueBill(c.Request().Context(), &b)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBillByVisit(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBillByVisit(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	f := Filter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}

	page := pagination.FromContext(c)
	bills, total, err := h.svc.ListBills(c.Request().Context(), f, page)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list bills")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, page.Limit, page.Offset))
}

func (h *Handler) RecordPayment(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Payment
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ReceivedBy = auth.UserIDFromContext(c.Request().Context())

	bill, err := h.svc.RecordPayment(c.Request().Context(), billID, &p)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) ListPayments(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	payments, err := h.svc.Payments(c.Request().Context(), billID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handler) RefundBill(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.Refund(c.Request().Context(), billID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) CancelBill(c echo.Context) error {
	billID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.CancelBill(c.Request().Context(), billID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) GetOutstandingBalance(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	balance, err := h.svc.OutstandingBalance(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute balance")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"patient_id":  patientID,
		"outstanding": balance,
	})
}

func (h *Handler) GetRevenue(c echo.Context) error {
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
	stats, err := h.svc.Revenue(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute revenue")
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CreatePackage(c echo.Context) error {
	var tp TreatmentPackage
	if err := c.Bind(&tp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePackage(c.Request().Context(), &tp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, tp)
}

func (h *Handler) UpdatePackage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var tp TreatmentPackage
	if err := c.Bind(&tp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdatePackage(c.Request().Context(), id, &tp)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListPackages(c echo.Context) error {
	packages, err := h.svc.ListPackages(c.Request().Context(), c.QueryParam("include_inactive") == "true")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list packages")
	}
	return c.JSON(http.StatusOK, packages)
}

type purchaseRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) PurchasePackage(c echo.Context) error {
	packageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	pp, bill, err := h.svc.PurchasePackage(c.Request().Context(), req.PatientID, packageID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"patient_package": pp,
		"bill":            bill,
	})
}

func (h *Handler) UseSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pp, err := h.svc.UseSession(c.Request().Context(), id)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) ListPatientPackages(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	packages, err := h.svc.PatientPackages(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list packages")
	}
	return c.JSON(http.StatusOK, packages)
}
