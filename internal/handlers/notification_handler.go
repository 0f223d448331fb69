package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/notifications"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
)

// NotificationReader is the read side of the notification core
type NotificationReader interface {
	List(ctx context.Context, userID uint, opts repositories.ListOptions) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	Backfill(ctx context.Context, userID uint, limit int) (*notifications.Backfill, error)
}

// ActorNames resolves display names for notification actors
type ActorNames interface {
	DisplayNames(ctx context.Context, ids ...uint) (map[uint]string, error)
}

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	notifications NotificationReader
	users         ActorNames
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(reader NotificationReader, users ActorNames) *NotificationHandler {
	return &NotificationHandler{notifications: reader, users: users}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.GET("/notifications/unread-count", h.GetUnreadCount)
	g.GET("/notifications/sync", h.Sync)
	g.PUT("/notifications/read-all", h.MarkAllAsRead)
}

// EnrichedNotification includes actor info
type EnrichedNotification struct {
	models.Notification
	Actor models.UserCompact `json:"actor"`
}

// enrich attaches actor names in one lookup; a failed lookup leaves names empty
func (h *NotificationHandler) enrich(ctx context.Context, list []models.Notification) []EnrichedNotification {
	enriched := make([]EnrichedNotification, len(list))
	ids := make([]uint, 0, len(list))
	seen := make(map[uint]bool, len(list))
	for i, n := range list {
		enriched[i] = EnrichedNotification{Notification: n, Actor: models.UserCompact{ID: n.ActorID}}
		if !seen[n.ActorID] {
			seen[n.ActorID] = true
			ids = append(ids, n.ActorID)
		}
	}
	if h.users == nil || len(ids) == 0 {
		return enriched
	}

	names, err := h.users.DisplayNames(ctx, ids...)
	if err != nil {
		return enriched
	}
	for i := range enriched {
		enriched[i].Actor.Name = names[enriched[i].ActorID]
	}
	return enriched
}

func parseLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return limit
}

// GetNotifications returns one newest-first page. Pass meta.next_before back as ?before= for the next page.
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	opts := repositories.ListOptions{
		Limit:      parseLimit(c),
		UnreadOnly: c.QueryParam("unread") == "true",
	}
	if raw := c.QueryParam("before"); raw != "" {
		before, err := repositories.ParseCursor(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid before cursor")
		}
		opts.Before = before
	}

	ctx := c.Request().Context()
	list, err := h.notifications.List(ctx, userID, opts)
	if err != nil {
		return storeError(err, "Notifications not found")
	}

	meta := echo.Map{"count": len(list), "unread_only": opts.UnreadOnly}
	if len(list) > 0 {
		meta["next_before"] = repositories.CursorOf(list[len(list)-1]).String()
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    echo.Map{"notifications": h.enrich(ctx, list)},
		"meta":    meta,
	})
}

// GetUnreadCount returns the unread notification count
func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	count, err := h.notifications.CountUnread(c.Request().Context(), userID)
	if err != nil {
		return storeError(err, "Notifications not found")
	}
	return respond(c, http.StatusOK, echo.Map{"count": count}, false)
}

// MarkAllAsRead marks every unread notification of the current user as read
func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	updated, err := h.notifications.MarkAllRead(c.Request().Context(), userID)
	if err != nil {
		return storeError(err, "Notifications not found")
	}
	return respond(c, http.StatusOK, echo.Map{"updated": updated}, false)
}

// Sync is the backfill a client pulls right after it (re)connects
func (h *NotificationHandler) Sync(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backfill, err := h.notifications.Backfill(ctx, userID, parseLimit(c))
	if err != nil {
		return storeError(err, "Notifications not found")
	}
	return respond(c, http.StatusOK, echo.Map{
		"notifications": h.enrich(ctx, backfill.Notifications),
		"unread_count":  backfill.UnreadCount,
	}, false)
}
