package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

const (
	recentKeyPrefix = "chat:recent:"
	recentMaxLen    = 50
)

func recentListKey(waID string) string  { return recentKeyPrefix + waID + ":messages" }
func recentTotalKey(waID string) string { return recentKeyPrefix + waID + ":total" }

// RecentCache keeps the newest window of each conversation in Redis so opening
// a conversation does not hit the database. Any write for a wa_id drops its
// entry; readers warm it again on the next miss.
type RecentCache struct {
	MessageStore
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRecentCache wraps inner. Without a client or a positive ttl it returns
// inner unchanged.
func NewRecentCache(inner MessageStore, client *redis.Client, ttl time.Duration, log *logger.Logger) MessageStore {
	if client == nil || ttl <= 0 {
		return inner
	}
	return &RecentCache{MessageStore: inner, client: client, ttl: ttl, log: log}
}

func (c *RecentCache) invalidate(ctx context.Context, waID string) {
	if waID == "" {
		return
	}
	if err := c.client.Del(ctx, recentListKey(waID), recentTotalKey(waID)).Err(); err != nil {
		c.log.Warn("recent cache: invalidate failed", zap.String("wa_id", waID), zap.Error(err))
	}
}

func (c *RecentCache) UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored, err := c.MessageStore.UpsertMessage(ctx, msg)
	if err == nil {
		c.invalidate(ctx, stored.WaID)
	}
	return stored, err
}

func (c *RecentCache) UpdateStatus(ctx context.Context, msgID string, status models.MessageStatus) (*models.Message, error) {
	updated, err := c.MessageStore.UpdateStatus(ctx, msgID, status)
	if err == nil {
		c.invalidate(ctx, updated.WaID)
	}
	return updated, err
}

func (c *RecentCache) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	n, err := c.MessageStore.MarkAllRead(ctx, waID)
	if err == nil && n > 0 {
		c.invalidate(ctx, waID)
	}
	return n, err
}

// Page serves page 1 from Redis when size fits the cached window.
func (c *RecentCache) Page(ctx context.Context, waID string, page, size int) ([]models.Message, int64, error) {
	if page > 1 || size > recentMaxLen {
		return c.MessageStore.Page(ctx, waID, page, size)
	}

	if msgs, total, ok := c.load(ctx, waID, size); ok {
		return msgs, total, nil
	}

	window, total, err := c.MessageStore.Page(ctx, waID, 1, recentMaxLen)
	if err != nil {
		return nil, 0, err
	}
	c.warm(ctx, waID, window, total)

	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window, total, nil
}

// load returns the newest size messages, oldest first.
func (c *RecentCache) load(ctx context.Context, waID string, size int) ([]models.Message, int64, bool) {
	pipe := c.client.Pipeline()
	rangeCmd := pipe.LRange(ctx, recentListKey(waID), 0, int64(size-1))
	totalCmd := pipe.Get(ctx, recentTotalKey(waID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("recent cache: read failed", zap.String("wa_id", waID), zap.Error(err))
		return nil, 0, false
	}

	total, err := totalCmd.Int64()
	if err != nil {
		return nil, 0, false
	}
	raw := rangeCmd.Val()

	msgs := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m models.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			return nil, 0, false
		}
		msgs = append(msgs, m)
	}
	return msgs, total, true
}

// warm stores window (oldest first) newest at the head of the list.
func (c *RecentCache) warm(ctx context.Context, waID string, window []models.Message, total int64) {
	listKey, totalKey := recentListKey(waID), recentTotalKey(waID)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, listKey)
	for i := len(window) - 1; i >= 0; i-- {
		data, err := json.Marshal(window[i])
		if err != nil {
			return
		}
		pipe.RPush(ctx, listKey, data)
	}
	pipe.Expire(ctx, listKey, c.ttl)
	pipe.Set(ctx, totalKey, strconv.FormatInt(total, 10), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("recent cache: warm failed", zap.String("wa_id", waID), zap.Error(err))
	}
}
