package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes the notification manager over HTTP for staff tooling.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications/send", h.HandleSend)
	g.POST("/notifications/send-template", h.HandleSendTemplate)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

type sendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
}

func (h *Handler) HandleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Recipient == "" || req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient and body are required")
	}

	msg := &Message{
		Channel:   Channel(req.Channel),
		Recipient: req.Recipient,
		Kind:      req.Kind,
		Body:      req.Body,
	}
	if msg.Channel == "" {
		msg.Channel = ChannelWhatsApp
	}

	// Delivery failures are reflected in the message status, not the HTTP
	// status: the message record was accepted.
	_ = h.mgr.Send(c.Request().Context(), msg)
	return c.JSON(http.StatusCreated, msg)
}

type sendTemplateRequest struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data"`
}

func (h *Handler) HandleSendTemplate(c echo.Context) error {
	var req sendTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TemplateID == "" || req.Recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template_id and recipient are required")
	}

	msg, err := h.mgr.SendTemplate(c.Request().Context(), req.TemplateID, req.Data, req.Recipient)
	if msg == nil && err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) HandleGet(c echo.Context) error {
	msg, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) HandleList(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	msgs := h.mgr.ListByRecipient(c.QueryParam("recipient"), limit)
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	if err := h.mgr.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, _ := h.mgr.Get(c.Param("id"))
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Stats())
}
