package router

import (
	"context"

	"github.com/anonto42/nano-midea/pulse/internal/handlers"
	"github.com/anonto42/nano-midea/pulse/internal/middleware"
	"github.com/anonto42/nano-midea/pulse/internal/notifications"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/anonto42/nano-midea/pulse/internal/socket"
	"github.com/anonto42/nano-midea/pulse/pkg/config"
	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface is wired from
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Users    repositories.UserRepository
	Posts    repositories.PostRepository
	Likes    repositories.LikeRepository
	Comments repositories.CommentRepository
	Follows  repositories.FollowRepository
	Service  *notifications.Service
	Hub      *socket.Hub
	Firebase handlers.TokenVerifier // nil when Firebase is not configured
	Ping     func(context.Context) error
}

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo, log *zap.Logger) {
	e.Use(eMiddleware.Recover())
	e.Use(eMiddleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(eMiddleware.CORS())
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, d Deps) {
	log := d.Logger

	health := handlers.NewHealthHandler(d.Ping, d.Hub.Count)
	e.GET("/health", health.HealthCheck)

	// --- Unprotected routes for authentication ---
	authGroup := e.Group("/api/v1/auth")
	handlers.NewAuthHandler(d.Users, d.Firebase, d.Config.JWT.Secret, d.Config.JWT.TTL).RegisterAuthRoutes(authGroup)

	// --- Protected routes (require JWT authentication) ---
	api := e.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(d.Config.JWT.Secret))

	handlers.NewUserHandler(d.Users, d.Follows).RegisterProfileRoutes(api)
	handlers.NewPostHandler(d.Posts, d.Likes, d.Service, log).RegisterPostRoutes(api)
	handlers.NewLikeHandler(d.Likes, d.Posts, d.Service, log).RegisterLikeRoutes(api)
	handlers.NewCommentHandler(d.Comments, d.Posts, d.Service, log).RegisterCommentRoutes(api)
	handlers.NewFollowHandler(d.Follows, d.Users, d.Service).RegisterFollowRoutes(api)
	handlers.NewNotificationHandler(d.Service, d.Users).RegisterNotificationRoutes(api)
	handlers.NewSocketHandler(d.Hub).RegisterSocketRoutes(api)

	log.Info("routes configured", zap.Int("count", len(e.Routes())))
}
