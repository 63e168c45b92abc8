package chatbot

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinicrm/clinicrm/internal/platform/auth"
)

// Handler exposes the chatbot webhook and staff-facing conversation views.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterPublicRoutes mounts the inbound-message webhook. The WhatsApp
// gateway calls it, so it sits outside the session middleware.
func (h *Handler) RegisterPublicRoutes(e *echo.Echo) {
	e.POST("/chatbot/webhook", h.Webhook)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staffGroup := api.Group("", auth.RequireRole("admin", "staff"))
	staffGroup.GET("/chatbot/conversations/:phone", h.GetConversation)
	staffGroup.GET("/chatbot/handoffs", h.ListHandoffs)
	staffGroup.GET("/chatbot/statistics", h.Stats)
}

type webhookRequest struct {
	From string `json:"from" form:"From"`
	Body string `json:"body" form:"Body"`
}

// Webhook accepts either the gateway's form encoding (From/Body) or a JSON
// body with the same fields and returns the reply to send back.
func (h *Handler) Webhook(c echo.Context) error {
	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.From = strings.TrimSpace(req.From)
	if req.From == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from is required")
	}

	reply, intent := h.engine.HandleMessage(c.Request().Context(), req.From, req.Body)
	return c.JSON(http.StatusOK, map[string]string{
		"reply":  reply,
		"intent": intent,
	})
}

func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.engine.Conversation(c.Param("phone"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListHandoffs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"conversations": h.engine.HandedOff()})
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Stats())
}
