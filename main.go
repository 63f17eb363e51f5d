package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/config"
	"github.com/Natchlou/le-q/handlers"
	"github.com/Natchlou/le-q/middleware"
	"github.com/Natchlou/le-q/models"
	"github.com/Natchlou/le-q/routes"
	"github.com/Natchlou/le-q/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Initialize the optional results archive
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if db != nil {
		if err := db.AutoMigrate(&models.GameRecord{}, &models.StandingRecord{}); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// Initialize the optional Redis mirror
	redisClient := config.InitRedis(cfg)

	// Initialize services
	store := services.NewStore()
	tokens := services.NewTokenIssuer(cfg.JWTSecret, cfg.HostTokenTTL)
	mirror := services.NewRoomMirror(redisClient, cfg.MirrorTTL, logger)
	archive := services.NewArchiveService(db, logger)
	roomService := services.NewRoomService(store, tokens, mirror, archive, cfg.CodeAttempts, logger)

	// Initialize the session hub
	hub := services.NewHub(roomService, services.HubOptions{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		ReconnectGrace:   cfg.ReconnectGrace,
		RoomIdleTimeout:  cfg.RoomIdleTimeout,
		SendBuffer:       cfg.SendBuffer,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	// Initialize handlers
	gameHandler := handlers.NewGameHandler(roomService, hub, logger)
	wsHandler := handlers.NewWSHandler(hub, roomService, tokens, logger)

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS(cfg.AllowedOrigin))

	// Setup routes
	routes.SetupRoutes(router, gameHandler, wsHandler, tokens)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	hub.Close()
}
