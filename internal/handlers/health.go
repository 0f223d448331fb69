package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports liveness plus the state of the backing stores
type HealthHandler struct {
	ping        func(context.Context) error
	connections func() int
}

func NewHealthHandler(ping func(context.Context) error, connections func() int) *HealthHandler {
	return &HealthHandler{ping: ping, connections: connections}
}

func (h *HealthHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	body := echo.Map{"status": "healthy", "service": "pulse"}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}
