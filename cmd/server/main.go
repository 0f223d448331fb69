package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anonto42/nano-midea/pulse/internal/dispatch"
	"github.com/anonto42/nano-midea/pulse/internal/events"
	"github.com/anonto42/nano-midea/pulse/internal/handlers"
	"github.com/anonto42/nano-midea/pulse/internal/metrics"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/notifications"
	"github.com/anonto42/nano-midea/pulse/internal/presence"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/anonto42/nano-midea/pulse/internal/router"
	"github.com/anonto42/nano-midea/pulse/internal/socket"
	"github.com/anonto42/nano-midea/pulse/pkg/config"
	"github.com/anonto42/nano-midea/pulse/pkg/firebase"
	"github.com/anonto42/nano-midea/pulse/pkg/logger"
	"github.com/anonto42/nano-midea/pulse/pkg/tracing"
	"github.com/anonto42/nano-midea/pulse/validators"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    cfg.App.Name,
		Env:    cfg.App.Env,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Enable:      cfg.Tracing.Enable,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.App.Name,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		zl.Fatal("tracing setup", zap.Error(err))
	}

	// Initialize database connections
	db, err := config.InitDB(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize databases", zap.Error(err))
	}
	defer db.CloseDB()

	// AutoMigrate PostgreSQL models
	if err := db.Postgres.AutoMigrate(
		&models.User{},
		&models.Comment{},
		&models.Like{},
		&models.Follow{},
		&models.Notification{},
	); err != nil {
		zl.Fatal("failed to auto-migrate PostgreSQL models", zap.Error(err))
	}

	users := repositories.NewPostgresUserRepository(db.Postgres)
	posts := repositories.NewMongoPostRepository(db.Mongo.Database(cfg.Mongo.Database))
	likes := repositories.NewPostgresLikeRepository(db.Postgres)
	comments := repositories.NewPostgresCommentRepository(db.Postgres)
	follows := repositories.NewPostgresFollowRepository(db.Postgres)

	var store repositories.NotificationRepository
	if cfg.Store.Driver == "memory" {
		store = repositories.NewMemoryNotificationRepository(nil)
		zl.Warn("notification store is in memory; records are lost on restart")
	} else {
		store = repositories.NewPostgresNotificationRepository(db.Postgres)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg)
	registry := presence.NewRegistry()
	clock := events.NewClock()

	var busOpts []events.BusOption
	if cfg.Realtime.AsyncDispatch {
		busOpts = append(busOpts, events.WithAsync(cfg.Realtime.QueueSize))
	}
	bus := events.NewBus(zl, busOpts...)

	service := notifications.NewService(bus, store, registry, clock, collector, zl)
	hub := socket.NewHub(service, socket.Config{
		SendBuffer:   cfg.Realtime.SendBuffer,
		PingInterval: cfg.Realtime.PingInterval,
		RateLimit:    cfg.Realtime.RateLimit,
		RateBurst:    cfg.Realtime.RateBurst,
		Metrics:      collector,
		Logger:       zl,
	})

	dispatcher := dispatch.New(store, registry, hub, users, dispatch.Config{
		PushTimeout: cfg.Realtime.PushTimeout,
		Metrics:     collector,
		Logger:      zl,
	})
	bus.Subscribe("dispatch", dispatcher.Handle)

	var mirror events.Mirror
	switch cfg.Mirror.Driver {
	case "kafka":
		mirror = events.NewKafkaMirror(cfg.Mirror.Brokers(), cfg.Mirror.KafkaTopic, zl)
	case "amqp":
		m, err := events.NewAMQPMirror(cfg.Mirror.AMQPURL, cfg.Mirror.AMQPExchange, zl)
		if err != nil {
			zl.Fatal("failed to connect event mirror", zap.Error(err))
		}
		mirror = m
	}
	if mirror != nil {
		bus.Subscribe("mirror", events.MirrorHandler(mirror, cfg.Mirror.Timeout, zl))
		zl.Info("event mirror enabled", zap.String("driver", cfg.Mirror.Driver))
	}

	// Firebase login is optional; the interface stays nil without credentials
	var verifier handlers.TokenVerifier
	switch authClient, err := firebase.NewAuthClient(ctx, cfg.Firebase.CredentialsPath); {
	case errors.Is(err, firebase.ErrNotConfigured):
		zl.Info("firebase login disabled")
	case err != nil:
		zl.Fatal("failed to initialize Firebase", zap.Error(err))
	default:
		verifier = authClient
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()

	router.SetupMiddleware(e, zl)
	router.SetupRoutes(e, router.Deps{
		Config:   cfg,
		Logger:   zl,
		Users:    users,
		Posts:    posts,
		Likes:    likes,
		Comments: comments,
		Follows:  follows,
		Service:  service,
		Hub:      hub,
		Firebase: verifier,
		Ping:     db.Ping,
	})

	metricsSrv := metrics.StartServer(":"+cfg.Server.MetricsPort, reg, db.Ping, zl)

	go func() {
		zl.Info("http server listening", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
	hub.Close()
	if err := bus.Close(shutdownCtx); err != nil {
		zl.Error("event bus drain", zap.Error(err))
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			zl.Error("event mirror close", zap.Error(err))
		}
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zl.Error("metrics shutdown", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zl.Error("tracing shutdown", zap.Error(err))
	}
}
