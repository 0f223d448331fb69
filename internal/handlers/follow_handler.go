package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
)

// FollowHandler handles follow/unfollow HTTP requests
type FollowHandler struct {
	followRepository repositories.FollowRepository
	userRepository   repositories.UserRepository
	emitter          Emitter
}

// NewFollowHandler creates a new FollowHandler
func NewFollowHandler(followRepo repositories.FollowRepository, userRepo repositories.UserRepository, emitter Emitter) *FollowHandler {
	return &FollowHandler{
		followRepository: followRepo,
		userRepository:   userRepo,
		emitter:          emitter,
	}
}

// RegisterFollowRoutes registers follow-related routes
func (h *FollowHandler) RegisterFollowRoutes(g *echo.Group) {
	g.POST("/users/:id/follow", h.FollowUser)
	g.DELETE("/users/:id/follow", h.UnfollowUser)
}

func parseTargetID(c echo.Context) (uint, error) {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || targetID == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}
	return uint(targetID), nil
}

// FollowUser follows a user and notifies them
func (h *FollowHandler) FollowUser(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	targetID, err := parseTargetID(c)
	if err != nil {
		return err
	}
	if currentUserID == targetID {
		return echo.NewHTTPError(http.StatusBadRequest, "Cannot follow yourself")
	}

	ctx := c.Request().Context()
	if _, err := h.userRepository.GetUserByID(ctx, targetID); err != nil {
		return storeError(err, "User not found")
	}

	follow := &models.Follow{FollowerID: currentUserID, FollowingID: targetID}
	if err := h.followRepository.CreateFollow(ctx, follow); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return echo.NewHTTPError(http.StatusConflict, "Already following this user")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	warned := emitAll(ctx, h.emitter, follow.FollowedEvent())
	return respond(c, http.StatusOK, echo.Map{"following": true}, warned)
}

// UnfollowUser unfollows a user. Nobody is notified.
func (h *FollowHandler) UnfollowUser(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	targetID, err := parseTargetID(c)
	if err != nil {
		return err
	}

	if err := h.followRepository.DeleteFollow(c.Request().Context(), currentUserID, targetID); err != nil {
		return storeError(err, "Follow relationship not found")
	}
	return respond(c, http.StatusOK, echo.Map{"following": false}, false)
}
