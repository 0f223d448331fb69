package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// LikeHandler handles HTTP requests related to likes
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	postRepository repositories.PostRepository // to keep like counts on posts
	emitter        Emitter
	log            *zap.Logger
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, postRepo repositories.PostRepository, emitter Emitter, log *zap.Logger) *LikeHandler {
	return &LikeHandler{
		likeRepository: likeRepo,
		postRepository: postRepo,
		emitter:        emitter,
		log:            log,
	}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.POST("/posts/:post_id/likes", h.LikePost)
	g.DELETE("/posts/:post_id/likes", h.UnlikePost)
	g.GET("/posts/:post_id/likes/status", h.GetUserLikeStatusForPost)
}

// LikePost likes a post, notifies its author and broadcasts the new count
func (h *LikeHandler) LikePost(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	postID := c.Param("post_id")
	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return storeError(err, "Post not found")
	}

	like := &models.Like{PostID: postID, UserID: userID}
	if err := h.likeRepository.CreateLike(ctx, like); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return echo.NewHTTPError(http.StatusConflict, "Post already liked by this user")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	count, err := h.postRepository.AdjustLikesCount(ctx, postID, 1)
	if err != nil {
		h.log.Warn("adjust likes count", zap.String("post_id", postID), zap.Error(err))
		count = post.LikesCount + 1
	}

	warned := emitAll(ctx, h.emitter,
		like.LikedEvent(post.UserID),
		models.PostEvent(models.KindPostLikesUpdated, userID, postID, map[string]any{"likes_count": count}),
	)
	return respond(c, http.StatusCreated, echo.Map{"like": like, "likes_count": count}, warned)
}

// UnlikePost removes the caller's like and broadcasts the new count
func (h *LikeHandler) UnlikePost(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	postID := c.Param("post_id")
	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return storeError(err, "Post not found")
	}

	if err := h.likeRepository.DeleteLike(ctx, postID, userID); err != nil {
		return storeError(err, "Like not found")
	}

	count, err := h.postRepository.AdjustLikesCount(ctx, postID, -1)
	if err != nil {
		h.log.Warn("adjust likes count", zap.String("post_id", postID), zap.Error(err))
		count = max(post.LikesCount-1, 0)
	}

	warned := emitAll(ctx, h.emitter,
		models.PostEvent(models.KindPostLikesUpdated, userID, postID, map[string]any{"likes_count": count}))
	return respond(c, http.StatusOK, echo.Map{"likes_count": count}, warned)
}

// GetUserLikeStatusForPost checks if the authenticated user has liked a specific post
func (h *LikeHandler) GetUserLikeStatusForPost(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	postID := c.Param("post_id")
	hasLiked, err := h.likeRepository.HasUserLikedPost(c.Request().Context(), postID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, echo.Map{"post_id": postID, "has_liked": hasLiked}, false)
}
