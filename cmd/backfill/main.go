// Command backfill loads webhook envelopes from a directory of JSON files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/backfill"
	"github.com/AnshRaj112/chatrelay-backend/internal/config"
	"github.com/AnshRaj112/chatrelay-backend/internal/database"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/internal/store"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	dir := flag.String("dir", "./samplePayloads", "directory of webhook envelope *.json files")
	watch := flag.Bool("watch", false, "keep running and process files as they appear")
	flag.Parse()

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

	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		appLogger.Fatal("payload directory not found", zap.String("dir", *dir))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	st, err := store.Open(ctx, cfg.StoreBackend, conns)
	if err != nil {
		appLogger.Fatal("failed to open message store", zap.Error(err))
	}

	// Writes must drop cached pages, and events go to the broker when one is
	// configured so running servers see them.
	var deps services.FanoutDeps
	if cfg.FanoutBackend == services.FanoutRedis || cfg.RecentCacheTTL > 0 {
		if err := database.ConnectRedis(cfg.RedisURI); err != nil {
			appLogger.Warn("redis unavailable", zap.Error(err))
		} else {
			defer func() { _ = database.DisconnectRedis() }()
			deps.Redis = database.RedisClient
		}
	}
	if cfg.FanoutBackend == services.FanoutNATS {
		if err := database.ConnectNATS(cfg.NATSURL); err != nil {
			appLogger.Warn("NATS unavailable; events stay local", zap.Error(err))
		} else {
			defer func() { _ = database.DisconnectNATS() }()
			deps.NATS = database.NATSConn
		}
	}
	st = store.NewRecentCache(st, deps.Redis, cfg.RecentCacheTTL, appLogger)

	hub := services.NewHub(appLogger)
	fanout := services.StartFanout(ctx, cfg.FanoutBackend, hub, deps, appLogger)

	proc := backfill.NewProcessor(services.NewIngestionService(st, fanout, appLogger), appLogger)

	summary, err := proc.ProcessDir(ctx, *dir)
	if err != nil {
		appLogger.Error("backfill interrupted", zap.Error(err))
	}
	if summary != nil {
		fmt.Printf("\nProcessing summary:\n")
		fmt.Printf("  processed: %d files\n", summary.Processed)
		fmt.Printf("  skipped:   %d files\n", summary.Skipped)
		fmt.Printf("  errors:    %d files\n", summary.Failed)
	}

	if !*watch {
		if summary == nil || summary.Failed > 0 {
			return 1
		}
		return 0
	}

	if err := proc.Watch(ctx, *dir, nil); err != nil {
		appLogger.Error("watch failed", zap.Error(err))
		return 1
	}
	return 0
}
