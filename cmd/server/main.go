package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/config"
	"github.com/AnshRaj112/chatrelay-backend/internal/database"
	"github.com/AnshRaj112/chatrelay-backend/internal/routes"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/internal/store"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/tracing"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewFor(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	logger.SetGlobal(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.TracingEndpoint)
		if err != nil {
			appLogger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
			appLogger.Info("tracing enabled", zap.String("endpoint", cfg.TracingEndpoint))
		}
	}

	conns := store.Connections{}

	if cfg.NeedsMongo() {
		if err := database.Connect(cfg.MongoURI, cfg.MongoDatabase); err != nil {
			appLogger.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer func() { _ = database.Disconnect() }()
		conns.Mongo = database.DB
	}

	if cfg.NeedsPostgres() {
		if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
			appLogger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		defer func() { _ = database.DisconnectPostgres() }()
		conns.Postgres = database.PostgresDB
	}

	// Redis is required for redis fan-out; the page cache and dev rate limiter
	// run without it.
	if cfg.NeedsRedis() {
		if err := database.ConnectRedis(cfg.RedisURI); err != nil {
			if cfg.FanoutBackend == services.FanoutRedis {
				appLogger.Fatal("failed to connect to Redis", zap.Error(err))
			}
			appLogger.Warn("redis unavailable; page cache and rate limiting disabled", zap.Error(err))
		} else {
			defer func() { _ = database.DisconnectRedis() }()
		}
	}

	if cfg.NeedsNATS() {
		if err := database.ConnectNATS(cfg.NATSURL); err != nil {
			appLogger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer func() { _ = database.DisconnectNATS() }()
	}

	st, err := store.Open(ctx, cfg.StoreBackend, conns)
	if err != nil {
		appLogger.Fatal("failed to open message store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	st = store.NewRecentCache(st, database.RedisClient, cfg.RecentCacheTTL, appLogger)
	appLogger.Info("message store ready",
		zap.String("backend", cfg.StoreBackend),
		zap.Bool("page_cache", database.RedisClient != nil && cfg.RecentCacheTTL > 0),
	)

	hub := services.NewHub(appLogger)
	fanout := services.StartFanout(ctx, cfg.FanoutBackend, hub, services.FanoutDeps{
		Redis: database.RedisClient,
		NATS:  database.NATSConn,
	}, appLogger)
	ingestion := services.NewIngestionService(st, fanout, appLogger)

	router := routes.NewRouter(routes.Dependencies{
		Config:    cfg,
		Logger:    appLogger,
		Ingestion: ingestion,
		Hub:       hub,
		Fanout:    fanout,
		Redis:     database.RedisClient,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		appLogger.Info("chatrelay backend running",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Environment),
			zap.String("fanout", cfg.FanoutBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
