// iPulse - IPU Result Analytics Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ipulse-dev/ipulse/internal/api"
	"github.com/ipulse-dev/ipulse/internal/bridge"
	"github.com/ipulse-dev/ipulse/internal/config"
	"github.com/ipulse-dev/ipulse/internal/identity"
	"github.com/ipulse-dev/ipulse/internal/importer"
	"github.com/ipulse-dev/ipulse/internal/middleware"
	"github.com/ipulse-dev/ipulse/internal/session"
	"github.com/ipulse-dev/ipulse/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var sessions session.Store
	switch cfg.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Error("Redis health check failed", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		sessions = session.NewRedisStore(rdb)
		slog.Info("Session store ready", "backend", "redis", "addr", cfg.RedisAddr)
	default:
		sessions = session.NewMemoryStore()
		slog.Info("Session store ready", "backend", "memory")
	}

	bridgeClient := bridge.New(cfg.IPUBaseURL, sessions, cfg.SessionTTL, cfg.UpstreamTimeout)
	im := importer.New(repo)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, bridgeClient, im, cfg)
	ipuHandler := api.NewIPUHandler(baseHandler)
	studentHandler := api.NewStudentHandler(baseHandler)
	syncHandler := api.NewSyncHandler(baseHandler, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo, sessions)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	ipuHandler.RegisterRoutes(r)
	studentHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/import", syncHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // imports can outlive any sane write timeout
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartSweeper(ctx, sessions)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
