// Command inbox follows the conversation list from a running server and logs
// changes as realtime events arrive.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/inbox"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "API base URL")
	selected := flag.String("select", "", "wa_id of the conversation to open")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	appLogger, err := logger.NewFor("development", *level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := inbox.NewClient(*server)
	cache := services.NewConversationCache(client)

	if err := cache.Resync(ctx); err != nil {
		appLogger.Fatal("failed to load conversations", zap.String("server", *server), zap.Error(err))
	}
	logSummary(appLogger, cache)

	if *selected != "" {
		page, err := cache.Select(ctx, *selected)
		if err != nil {
			appLogger.Fatal("failed to open conversation", zap.String("wa_id", *selected), zap.Error(err))
		}
		for _, m := range page.Messages {
			appLogger.Info("message",
				zap.String("msg_id", m.MsgID),
				zap.String("name", m.Name),
				zap.String("text", m.Text),
				zap.String("status", string(m.Status)),
				zap.Time("timestamp", m.Timestamp),
			)
		}
	}

	live := inbox.NewLive(cache, client.WebSocketURL(), appLogger)
	live.OnEvent = func(event string, changed bool) {
		if changed {
			appLogger.Info("event applied", zap.String("event", event))
			logSummary(appLogger, cache)
		}
	}
	live.Run(ctx)
}

func logSummary(log *logger.Logger, cache *services.ConversationCache) {
	for _, c := range cache.Conversations() {
		log.Info("conversation",
			zap.String("wa_id", c.WaID),
			zap.String("name", c.Name),
			zap.String("last_message", c.LastMessage),
			zap.Int("unread", c.UnreadCount),
		)
	}
}
