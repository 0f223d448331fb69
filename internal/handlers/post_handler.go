package handlers

import (
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	postRepository repositories.PostRepository
	likeRepository repositories.LikeRepository
	emitter        Emitter
	log            *zap.Logger
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(postRepo repositories.PostRepository, likeRepo repositories.LikeRepository, emitter Emitter, log *zap.Logger) *PostHandler {
	return &PostHandler{
		postRepository: postRepo,
		likeRepository: likeRepo,
		emitter:        emitter,
		log:            log,
	}
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(g *echo.Group) {
	g.POST("/posts", h.CreatePost)
	g.GET("/posts/:id", h.GetPost)
	g.GET("/posts", h.GetPosts)
	g.DELETE("/posts/:id", h.DeletePost)
}

// CreatePost creates a new post and announces it to the feed room
func (h *PostHandler) CreatePost(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	post := &models.Post{
		UserID:    userID,
		Content:   req.Content,
		ImageURLs: req.ImageURLs,
	}
	if err := h.postRepository.CreatePost(ctx, post); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	warned := emitAll(ctx, h.emitter,
		models.PostEvent(models.KindPostCreated, userID, post.ID.Hex(), map[string]any{"post": post}))
	return respond(c, http.StatusCreated, post, warned)
}

// GetPost retrieves a post by ID
func (h *PostHandler) GetPost(c echo.Context) error {
	post, err := h.postRepository.GetPostByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err, "Post not found")
	}
	return respond(c, http.StatusOK, post, false)
}

// GetPosts returns the newest posts, paged with ?skip=&limit=
func (h *PostHandler) GetPosts(c echo.Context) error {
	skip, _ := strconv.ParseInt(c.QueryParam("skip"), 10, 64)
	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	posts, err := h.postRepository.GetAllPosts(c.Request().Context(), skip, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    posts,
		"meta":    echo.Map{"skip": skip, "limit": limit},
	})
}

// DeletePost deletes the caller's own post and tells everyone viewing it
func (h *PostHandler) DeletePost(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	postID := c.Param("id")
	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return storeError(err, "Post not found")
	}
	if post.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "You are not authorized to delete this post")
	}

	if err := h.postRepository.DeletePost(ctx, postID); err != nil {
		return storeError(err, "Post not found")
	}
	if err := h.likeRepository.DeleteLikesByPostID(ctx, postID); err != nil {
		h.log.Warn("delete likes of removed post", zap.String("post_id", postID), zap.Error(err))
	}

	warned := emitAll(ctx, h.emitter, models.PostEvent(models.KindPostDeleted, userID, postID, nil))
	return respond(c, http.StatusOK, echo.Map{"id": postID, "deleted": true}, warned)
}
