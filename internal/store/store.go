// Package store persists processed messages. Every backend keys documents by
// msg_id and keeps content fields write-once.
package store

import (
	"context"
	"errors"
	"math"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// ErrNotFound is returned when an operation targets an unknown msg_id.
var ErrNotFound = errors.New("message not found")

// SortOrder selects timestamp ordering for list queries.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// MessageStore is the single owner of persisted messages.
type MessageStore interface {
	// UpsertMessage inserts msg if its msg_id is new. An existing document keeps its
	// content untouched. The stored document is returned either way.
	UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// UpdateStatus changes only the status of an existing message.
	// Unknown ids return ErrNotFound and create nothing.
	UpdateStatus(ctx context.Context, msgID string, status models.MessageStatus) (*models.Message, error)

	// ListByCounterparty returns every message for waID ordered by timestamp.
	ListByCounterparty(ctx context.Context, waID string, order SortOrder) ([]models.Message, error)

	// ListAll returns every message ordered by timestamp ascending.
	ListAll(ctx context.Context) ([]models.Message, error)

	// CountUnread counts messages for waID whose status is not read.
	CountUnread(ctx context.Context, waID string) (int64, error)

	// MarkAllRead sets status=read on every unread message for waID and
	// returns how many documents changed.
	MarkAllRead(ctx context.Context, waID string) (int64, error)

	// Page returns the page-th window (1-indexed) of size messages, newest window
	// first, with the window itself ordered oldest to newest, plus the total count.
	Page(ctx context.Context, waID string, page, size int) ([]models.Message, int64, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Backend names accepted by STORE_BACKEND.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// PageSkip returns the number of documents to skip for a 1-indexed page.
// It saturates at math.MaxInt64 instead of overflowing and is never negative.
func PageSkip(page, size int) int64 {
	if page <= 1 || size <= 0 {
		return 0
	}
	p, n := int64(page-1), int64(size)
	if p > math.MaxInt64/n {
		return math.MaxInt64
	}
	return p * n
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
