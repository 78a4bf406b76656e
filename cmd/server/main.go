// TeRA - T-Fiber support chat assistant server
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

	"github.com/tfiber/tera-assist/internal/api"
	"github.com/tfiber/tera-assist/internal/cascade"
	"github.com/tfiber/tera-assist/internal/chat"
	"github.com/tfiber/tera-assist/internal/config"
	"github.com/tfiber/tera-assist/internal/identity"
	"github.com/tfiber/tera-assist/internal/lead"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/middleware"
	"github.com/tfiber/tera-assist/internal/oracle"
	"github.com/tfiber/tera-assist/internal/store"
	"github.com/tfiber/tera-assist/internal/transport"
	"github.com/tfiber/tera-assist/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "oracle", cfg.Oracle.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	catalog, err := locale.Load()
	if err != nil {
		slog.Error("Failed to load message catalog", "error", err)
		os.Exit(1)
	}

	oracles, err := oracle.New(ctx, oracle.Config{
		Backend:           cfg.Oracle.Backend,
		GeminiAPIKey:      cfg.Oracle.GeminiAPIKey,
		GeminiModel:       cfg.Oracle.GeminiModel,
		GRPCAddr:          cfg.Oracle.GRPCAddr,
		ConnectTimeout:    cfg.Timeout.HealthCheck,
		ServiceAreasFile:  cfg.Oracle.ServiceAreasFile,
		WatchServiceAreas: cfg.Oracle.WatchServiceAreas,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize oracle backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := oracles.Close(); closeErr != nil {
			slog.Error("Failed to close oracle backend", "error", closeErr)
		}
	}()

	// Initialize services.
	sessions := chat.NewManager(chat.Deps{
		Store:        repo,
		Leads:        lead.NewService(repo, logger),
		Responder:    cascade.NewArbiter(oracles, catalog, cfg.Oracle.Timeout, logger),
		Catalog:      catalog,
		StoreTimeout: cfg.Timeout.Store,
		Logger:       logger,
	}, chat.ManagerOptions{
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	})
	defer sessions.Close()
	slog.Info("Chat session manager started", "idle_ttl", cfg.Session.IdleTTL)

	sockets := transport.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions)
	chatHandler := api.NewChatHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, oracles, cfg.Timeout.HealthCheck)
	wsHandler := transport.NewWebSocketHandler(sessions, sockets, cfg.AllowedOrigins(), cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Session-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		if cfg.RateLimit.Requests > 0 {
			limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
			go limiter.Run(ctx, cfg.RateLimit.Window)
			r.Use(limiter.Middleware)
			slog.Info("Rate limiting enabled", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window)
		}

		chatHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded chat widget (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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

	sockets.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
