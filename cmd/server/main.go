package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"taskforge/internal/assignment"
	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
	"taskforge/internal/engine"
	"taskforge/internal/greyarea"
	"taskforge/internal/handlers"
	"taskforge/internal/kafka"
	"taskforge/internal/metrics"
	"taskforge/internal/notification"
	"taskforge/internal/rules"
	"taskforge/internal/scheduler"
)

const (
	serviceName = "taskforge"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("Starting task orchestration engine",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	// Repositories
	eventRepo := database.NewEventRepository(db, logger)
	taskRepo := database.NewTaskRepository(db, logger)
	greyAreaRepo := database.NewGreyAreaRepository(db, logger)

	// Directory and workload counters
	dir := directory.NewCachedDirectory(
		directory.NewPostgresDirectory(db, logger),
		5*time.Minute,
	)
	workload := directory.NewRedisWorkloadCounter(redisClient, logger)

	// Rule catalog
	catalog := rules.NewCatalog(cfg.Catalog.Directory, logger)
	if err := catalog.Load(); err != nil {
		logger.Error("Failed to load rule catalog", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()

	// Core engine components
	resolver := assignment.NewResolver(cfg.Engine, dir, workload, logger)
	notificationManager := notification.NewManager(cfg.Notifications, dir, collector, logger)
	orchestrator := engine.NewOrchestrator(
		cfg, logger, catalog, resolver, taskRepo, eventRepo, workload, notificationManager)

	producer := kafka.NewProducer(cfg, logger)
	greyEngine := greyarea.NewEngine(
		cfg, logger, catalog, resolver, greyAreaRepo, notificationManager, producer)
	lifecycle := greyarea.NewLifecycle(
		cfg, logger, greyAreaRepo, taskRepo, dir, workload, notificationManager, producer)

	consumer := kafka.NewConsumer(cfg, logger, orchestrator, eventRepo, producer)

	// Scheduler sweeps
	var taskScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		taskScheduler, err = scheduler.NewScheduler(
			cfg,
			logger,
			scheduler.NewEscalationSweepHandler(greyAreaRepo, lifecycle, logger),
			scheduler.NewCatalogReloadHandler(catalog, logger),
			scheduler.NewNotificationDrainHandler(notificationManager, logger),
			scheduler.NewRetentionCleanupHandler(taskRepo, greyAreaRepo, cfg, logger),
		)
		if err != nil {
			logger.Error("Failed to create scheduler", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	httpHandler := handlers.NewHTTPHandler(
		cfg, logger, orchestrator, greyEngine, lifecycle,
		taskRepo, greyAreaRepo, eventRepo, dir, workload,
		consumer, producer, taskScheduler, collector)
	httpHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	notificationManager.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil {
			logger.Error("Kafka consumer failed", "error", err)
			cancel()
		}
	}()

	if taskScheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := taskScheduler.Start(ctx); err != nil {
				logger.Error("Scheduler failed", "error", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	consumer.Stop()
	if taskScheduler != nil {
		taskScheduler.Stop()
	}
	notificationManager.Stop()
	producer.Stop()

	wg.Wait()
	logger.Info("Service shutdown complete")
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Logging.IncludeSource,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
