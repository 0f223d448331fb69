package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
)

const warningDelayed = "notification may be delayed"

// Emitter hands completed actions to the notification core
type Emitter interface {
	Emit(ctx context.Context, in models.EmitInput) error
}

// getUserIDFromContext reads the identity placed by the JWT middleware, 0 if absent
func getUserIDFromContext(c echo.Context) uint {
	claims, ok := c.Get("user").(*models.JwtCustomClaims)
	if !ok || claims == nil {
		return 0
	}
	return claims.UserID
}

func requireUser(c echo.Context) (uint, error) {
	id := getUserIDFromContext(c)
	if id == 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	return id, nil
}

// emitAll publishes every input and reports whether any of them came back with a warning.
// The action has already been committed, so warnings never fail the request.
func emitAll(ctx context.Context, emitter Emitter, inputs ...models.EmitInput) (warned bool) {
	for _, in := range inputs {
		if err := emitter.Emit(ctx, in); err != nil {
			warned = true
		}
	}
	return warned
}

func respond(c echo.Context, status int, data any, warned bool) error {
	body := echo.Map{"success": true, "data": data}
	if warned {
		body["warning"] = warningDelayed
	}
	return c.JSON(status, body)
}

// storeError maps repository failures to HTTP errors
func storeError(err error, notFound string) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, models.ErrPersistenceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Notifications are temporarily unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
