package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"osmlevels/internal/app"
	"osmlevels/internal/config"
	"osmlevels/internal/handler"
	"osmlevels/internal/metrics"
	"osmlevels/internal/middleware"
	"osmlevels/internal/service/hierarchy"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

const (
	sessionCleanupInterval = 5 * time.Minute
	sessionIdlePeriod      = 30 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"cache_driver", cfg.CacheDriver,
		"level_source", cfg.LevelSource,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer backend.Close()

	services, err := app.SetupServices(cfg, backend, logger)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	if services.Watcher != nil {
		if err := services.Watcher.Start(); err != nil {
			logger.Warn("cache policy watcher not started", "error", err)
		}
		defer services.Watcher.Stop()
	}
	services.Sweeper.Start()

	views := hierarchy.NewRegistry[*hierarchy.TreeView]("view", sessionCleanupInterval, sessionIdlePeriod)
	selections := hierarchy.NewRegistry[*hierarchy.Selection]("selection", sessionCleanupInterval, sessionIdlePeriod)
	go views.StartCleanup(ctx)
	go selections.StartCleanup(ctx)

	levelsHandler := handler.NewLevelsHandler(services.Loader, services.Resolver, services.Cache, views, logger)
	viewsHandler := handler.NewViewsHandler(services.Loader, views, cfg.EagerLoadDepth, logger)
	selectionsHandler := handler.NewSelectionsHandler(
		services.Loader,
		services.Resolver,
		services.Notifier,
		services.Order,
		selections,
		handler.SelectionsConfig{
			DefaultPageSize: cfg.DefaultPageSize,
			MaxDepth:        cfg.MaxSelectionDepth,
		},
		logger,
	)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, levelsHandler, viewsHandler, selectionsHandler)

	// Order: CORS → Metrics → Recovery → RequestLogger → Routes
	var h http.Handler = mux
	h = middleware.RequestLogger(logger)(h)
	h = middleware.Recovery(logger)(h)
	h = metrics.Middleware(h)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := services.Sweeper.Shutdown(shutdownCtx); err != nil {
		logger.Error("sweeper shutdown", "error", err)
	}
	views.CloseAll()
	selections.CloseAll()

	logger.Info("server stopped")
}
