package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/metrics"
)

// Realtime event names.
const (
	EventNewMessage         = "new_message"
	EventStatusUpdate       = "status_update"
	EventMessagesMarkedRead = "messages_marked_read"
	EventUserTyping         = "user_typing"
	EventMessageRead        = "message_read"

	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventMarkRead          = "mark_read"
)

// DefaultSubscriberBuffer is the per-subscriber outbound queue length.
const DefaultSubscriberBuffer = 64

// Frame is what a websocket client receives: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame marshals payload into a client frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Subscriber is one connected client. Frames queue on a bounded channel and are
// dropped when it is full.
type Subscriber struct {
	ID   string
	send chan []byte

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// Frames returns the outbound queue. It is closed when the subscriber is removed.
func (s *Subscriber) Frames() <-chan []byte {
	return s.send
}

// InConversation reports whether the subscriber joined waID.
func (s *Subscriber) InConversation(waID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[waID]
	return ok
}

// Hub is the in-process registry of subscribers and their conversation rooms.
// It is also the local Fanout used when no broker is configured.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
	log         *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Global()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultSubscriberBuffer,
		log:         log,
	}
}

// Register adds a new subscriber with a fresh id.
func (h *Hub) Register() *Subscriber {
	sub := &Subscriber{
		ID:    uuid.NewString(),
		send:  make(chan []byte, h.bufferSize),
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	return sub
}

// Unregister removes the subscriber from every room and closes its queue.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		// Closed under the hub lock so no deliver can race the close.
		close(sub.send)
	}
	h.mu.Unlock()
}

// Join subscribes id to the conversation room for waID.
func (h *Hub) Join(id, waID string) {
	if sub := h.get(id); sub != nil && waID != "" {
		sub.mu.Lock()
		sub.rooms[waID] = struct{}{}
		sub.mu.Unlock()
	}
}

// Leave removes id from the conversation room for waID.
func (h *Hub) Leave(id, waID string) {
	if sub := h.get(id); sub != nil {
		sub.mu.Lock()
		delete(sub.rooms, waID)
		sub.mu.Unlock()
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) get(id string) *Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscribers[id]
}

// Deliver pushes frame to local subscribers. An empty waID targets everyone,
// otherwise only members of that room. exclude skips one subscriber id.
// Returns how many subscribers accepted the frame.
func (h *Hub) Deliver(waID, exclude string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, sub := range h.subscribers {
		if id == exclude {
			continue
		}
		if waID != "" && !sub.InConversation(waID) {
			continue
		}
		select {
		case sub.send <- frame:
			delivered++
		default:
			metrics.FanoutDroppedTotal.Inc()
			h.log.Debug("dropping frame for slow subscriber", zap.String("subscriber", id))
		}
	}
	return delivered
}

func (h *Hub) NotifyConversation(ctx context.Context, waID, event string, payload any) error {
	return h.emit(waID, "", event, payload)
}

func (h *Hub) NotifyAll(ctx context.Context, event string, payload any) error {
	return h.emit("", "", event, payload)
}

func (h *Hub) Relay(ctx context.Context, waID, senderID, event string, payload any) error {
	return h.emit(waID, senderID, event, payload)
}

func (h *Hub) emit(waID, exclude, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	metrics.RecordFanout(event, scopeLabel(waID))
	h.Deliver(waID, exclude, frame)
	return nil
}

func scopeLabel(waID string) string {
	if waID == "" {
		return "all"
	}
	return "conversation"
}
