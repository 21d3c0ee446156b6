package services

import (
	"context"
	"sync"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// ConversationFetcher is the server side of a ConversationCache.
// IngestionService satisfies it directly; cmd/inbox implements it over HTTP.
type ConversationFetcher interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ConversationPage(ctx context.Context, waID string, page, limit int) (*models.MessagePage, error)
}

// ConversationCache is client-held conversation state. Live events patch it in
// place, but the server stays the source of truth: Resync and Select replace
// local state with a fresh fetch.
type ConversationCache struct {
	fetcher ConversationFetcher

	mu       sync.RWMutex
	convs    []models.Conversation
	selected string
}

func NewConversationCache(fetcher ConversationFetcher) *ConversationCache {
	return &ConversationCache{fetcher: fetcher}
}

// Resync replaces every conversation with the server's list.
func (c *ConversationCache) Resync(ctx context.Context) error {
	convs, err := c.fetcher.ListConversations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.convs = convs
	c.mu.Unlock()
	return nil
}

// Select marks waID as the open conversation and resynchronizes from the
// server: the list is refetched and the conversation's messages are replaced
// by its newest page, discarding whatever incremental state was held.
func (c *ConversationCache) Select(ctx context.Context, waID string) (*models.MessagePage, error) {
	convs, err := c.fetcher.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.fetcher.ConversationPage(ctx, waID, 1, DefaultPageLimit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.convs = convs
	c.selected = waID
	if i := c.indexOf(waID); i != -1 {
		c.convs[i].Messages = append([]models.Message(nil), page.Messages...)
	}
	return page, nil
}

// Selected returns the open conversation, if any.
func (c *ConversationCache) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// ApplyNewMessage appends msg to its conversation, creating it when needed.
// A msg_id already held is ignored. Reports whether state changed.
func (c *ConversationCache) ApplyNewMessage(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(msg.WaID)
	if i == -1 {
		c.convs = append(c.convs, models.Conversation{WaID: msg.WaID, Name: msg.Name})
		i = len(c.convs) - 1
	}
	conv := &c.convs[i]
	for _, m := range conv.Messages {
		if m.MsgID == msg.MsgID {
			return false
		}
	}

	conv.Messages = append(conv.Messages, msg)
	if conv.LastTimestamp == nil || !msg.Timestamp.Before(*conv.LastTimestamp) {
		ts := msg.Timestamp
		conv.LastTimestamp = &ts
		conv.LastMessage = msg.Text
	}
	if msg.Status != models.MessageStatusRead {
		conv.UnreadCount++
	}
	if hasRealName(msg.Name) {
		conv.Name = msg.Name
	}
	sortConversations(c.convs)
	return true
}

// ApplyStatusUpdate changes the status of a held message in place and keeps
// the unread count consistent. Unknown messages are ignored.
func (c *ConversationCache) ApplyStatusUpdate(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(msg.WaID)
	if i == -1 {
		return false
	}
	conv := &c.convs[i]
	for j := range conv.Messages {
		m := &conv.Messages[j]
		if m.MsgID != msg.MsgID {
			continue
		}
		wasRead := m.Status == models.MessageStatusRead
		isRead := msg.Status == models.MessageStatusRead
		m.Status = msg.Status
		m.UpdatedAt = msg.UpdatedAt
		switch {
		case !wasRead && isRead && conv.UnreadCount > 0:
			conv.UnreadCount--
		case wasRead && !isRead:
			conv.UnreadCount++
		}
		return true
	}
	return false
}

// ApplyMarkedRead zeroes the unread count of waID and marks held messages read.
func (c *ConversationCache) ApplyMarkedRead(waID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(waID)
	if i == -1 {
		return false
	}
	conv := &c.convs[i]
	for j := range conv.Messages {
		conv.Messages[j].Status = models.MessageStatusRead
	}
	conv.UnreadCount = 0
	return true
}

// Conversations returns a snapshot, most recently active first.
func (c *ConversationCache) Conversations() []models.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Conversation, len(c.convs))
	for i, conv := range c.convs {
		conv.Messages = append([]models.Message(nil), conv.Messages...)
		out[i] = conv
	}
	return out
}

// Conversation returns a snapshot of one conversation.
func (c *ConversationCache) Conversation(waID string) (models.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(waID)
	if i == -1 {
		return models.Conversation{}, false
	}
	conv := c.convs[i]
	conv.Messages = append([]models.Message(nil), conv.Messages...)
	return conv, true
}

func (c *ConversationCache) indexOf(waID string) int {
	for i := range c.convs {
		if c.convs[i].WaID == waID {
			return i
		}
	}
	return -1
}
