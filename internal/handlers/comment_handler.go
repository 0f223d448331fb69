package handlers

import (
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CommentHandler handles HTTP requests related to comments
type CommentHandler struct {
	commentRepository repositories.CommentRepository
	postRepository    repositories.PostRepository // to keep comment counts on posts
	emitter           Emitter
	log               *zap.Logger
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentRepo repositories.CommentRepository, postRepo repositories.PostRepository, emitter Emitter, log *zap.Logger) *CommentHandler {
	return &CommentHandler{
		commentRepository: commentRepo,
		postRepository:    postRepo,
		emitter:           emitter,
		log:               log,
	}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.POST("/posts/:post_id/comments", h.CreateComment)
	g.GET("/posts/:post_id/comments", h.GetCommentsByPostID)
	g.DELETE("/comments/:id", h.DeleteComment)
}

// CreateComment comments on a post, notifies its author and broadcasts the new count
func (h *CommentHandler) CreateComment(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.CreateCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	postID := c.Param("post_id")
	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return storeError(err, "Post not found")
	}

	comment := &models.Comment{PostID: postID, UserID: userID, Content: req.Content}
	if err := h.commentRepository.CreateComment(ctx, comment); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	count, err := h.postRepository.AdjustCommentsCount(ctx, postID, 1)
	if err != nil {
		h.log.Warn("adjust comments count", zap.String("post_id", postID), zap.Error(err))
		count = post.CommentsCount + 1
	}

	warned := emitAll(ctx, h.emitter,
		comment.CommentedEvent(post.UserID),
		models.PostEvent(models.KindPostCommentsUpdated, userID, postID,
			map[string]any{"comments_count": count, "comment_id": comment.ID}),
	)
	return respond(c, http.StatusCreated, echo.Map{"comment": comment, "comments_count": count}, warned)
}

// GetCommentsByPostID retrieves all comments for a specific post
func (h *CommentHandler) GetCommentsByPostID(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("post_id")
	if _, err := h.postRepository.GetPostByID(ctx, postID); err != nil {
		return storeError(err, "Post not found")
	}

	comments, err := h.commentRepository.GetCommentsByPostID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, comments, false)
}

// DeleteComment deletes the caller's own comment and broadcasts the new count
func (h *CommentHandler) DeleteComment(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	commentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid comment ID")
	}

	ctx := c.Request().Context()
	comment, err := h.commentRepository.GetCommentByID(ctx, uint(commentID))
	if err != nil {
		return storeError(err, "Comment not found")
	}
	if comment.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "You are not authorized to delete this comment")
	}

	if err := h.commentRepository.DeleteComment(ctx, comment.ID); err != nil {
		return storeError(err, "Comment not found")
	}

	count, err := h.postRepository.AdjustCommentsCount(ctx, comment.PostID, -1)
	if err != nil {
		// the post may be gone already; nobody is watching its count then
		h.log.Warn("adjust comments count", zap.String("post_id", comment.PostID), zap.Error(err))
		return respond(c, http.StatusOK, echo.Map{"id": comment.ID, "deleted": true}, false)
	}

	warned := emitAll(ctx, h.emitter, models.PostEvent(models.KindPostCommentsUpdated, userID, comment.PostID,
		map[string]any{"comments_count": count}))
	return respond(c, http.StatusOK, echo.Map{"id": comment.ID, "deleted": true, "comments_count": count}, warned)
}
