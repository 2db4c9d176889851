// Command relay runs the musicsync real-time session relay: a WebSocket
// hub that fans audio-visualizer state out between the displays,
// controllers and viewers sharing a session code.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oaktech/musicsync-relay/internal/api"
	"github.com/oaktech/musicsync-relay/internal/config"
	"github.com/oaktech/musicsync-relay/internal/health"
	"github.com/oaktech/musicsync-relay/internal/identify"
	"github.com/oaktech/musicsync-relay/internal/kv"
	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/middleware"
	"github.com/oaktech/musicsync-relay/internal/ratelimit"
	"github.com/oaktech/musicsync-relay/internal/relay"
	"github.com/oaktech/musicsync-relay/internal/sessionstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	development := cfg.GoEnv != "production"
	if err := logging.Initialize(development); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	adapter, err := kv.New(cfg.RedisURL)
	if err != nil {
		logging.Error(ctx, "failed to construct substrate adapter")
		os.Exit(1)
	}
	defer adapter.Close()

	sessions := sessionstore.New(adapter, cfg.SessionTTL)
	pool := identify.New(&identify.StubRecognizer{}, cfg.IdentifyWorkers)
	defer pool.Close()

	hub := relay.New(sessions, adapter, cfg.RequireCode, cfg.RoomReap, cfg.DisconnectGrace)
	hub.Start()

	wsLimiter := ratelimit.New(adapter, "ws-connect", time.Minute, 120, ratelimit.ByClientIP)
	identifyLimiter := ratelimit.New(adapter, "identify", time.Minute, 30, ratelimit.ByClientIP)

	apiHandler := api.NewHandler(pool)
	healthHandler := health.NewHandler(adapter)

	if development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	router.Use(cors.New(corsConfig))

	router.GET("/ws", wsLimiter.Middleware(), hub.ServeWS)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/identify", identifyLimiter.Middleware(), apiHandler.Identify)
		apiGroup.GET("/search", apiHandler.Search)
		apiGroup.GET("/video/search", apiHandler.VideoSearch)
		apiGroup.GET("/config", apiHandler.Config)
		apiGroup.GET("/health", apiHandler.Health)
	}

	router.GET("/healthz/live", healthHandler.Liveness)
	router.GET("/healthz/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "relay server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown")
	}

	logging.Info(ctx, "server exiting")
}
