package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// MemoryStore keeps messages in process. Used by tests and local runs without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Message
	order []string // insertion order, breaks timestamp ties
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*models.Message),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[msg.MsgID]; ok {
		cp := *existing
		return &cp, nil
	}

	now := s.now()
	stored := *msg
	if stored.Status == "" {
		stored.Status = models.MessageStatusSent
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.MsgID] = &stored
	s.order = append(s.order, stored.MsgID)

	cp := stored
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, msgID string, status models.MessageStatus) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[msgID]
	if !ok {
		return nil, ErrNotFound
	}
	existing.Status = status
	existing.UpdatedAt = s.now()
	cp := *existing
	return &cp, nil
}

// sorted returns copies of the messages matching keep, ordered by timestamp ascending.
// Caller must hold at least a read lock.
func (s *MemoryStore) sorted(keep func(*models.Message) bool) []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		m := s.byID[id]
		if keep == nil || keep(m) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *MemoryStore) ListByCounterparty(ctx context.Context, waID string, order SortOrder) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sorted(func(m *models.Message) bool { return m.WaID == waID })
	if order == Descending {
		reverse(msgs)
	}
	return msgs, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(nil), nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, waID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.byID {
		if m.WaID == waID && m.Status != models.MessageStatusRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, m := range s.byID {
		if m.WaID == waID && m.Status != models.MessageStatusRead {
			m.Status = models.MessageStatusRead
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Page(ctx context.Context, waID string, page, size int) ([]models.Message, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted(func(m *models.Message) bool { return m.WaID == waID })
	total := int64(len(all))
	reverse(all)

	off := PageSkip(page, size)
	if off >= total {
		return []models.Message{}, total, nil
	}
	skip := int(off)
	end := skip + size
	if end > len(all) {
		end = len(all)
	}
	window := append([]models.Message(nil), all[skip:end]...)
	reverse(window)
	return window, total, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
