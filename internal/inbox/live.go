package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/handlers"
	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// Live keeps a ConversationCache current from the websocket gateway.
// After every (re)connect it resynchronizes from the HTTP API and rejoins the
// selected conversation.
type Live struct {
	cache  *services.ConversationCache
	wsURL  string
	log    *logger.Logger
	dialer *websocket.Dialer

	// OnEvent, when set, is called after each applied frame.
	OnEvent func(event string, changed bool)

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewLive(cache *services.ConversationCache, wsURL string, log *logger.Logger) *Live {
	return &Live{cache: cache, wsURL: wsURL, log: log, dialer: websocket.DefaultDialer}
}

// Run connects and applies events until ctx ends, reconnecting with backoff.
func (l *Live) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("gateway connection lost", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (l *Live) session(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()
	}()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := l.cache.Resync(ctx); err != nil {
		l.log.Warn("resync failed", zap.Error(err))
	}
	if waID := l.cache.Selected(); waID != "" {
		_ = l.Join(waID)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame services.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		changed := l.Apply(frame)
		if l.OnEvent != nil {
			l.OnEvent(frame.Event, changed)
		}
	}
}

// Apply patches the cache with one server frame and reports whether it changed.
func (l *Live) Apply(frame services.Frame) bool {
	switch frame.Event {
	case services.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return false
		}
		return l.cache.ApplyNewMessage(msg)
	case services.EventStatusUpdate:
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return false
		}
		return l.cache.ApplyStatusUpdate(msg)
	case services.EventMessagesMarkedRead:
		var evt services.MarkedReadEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			return false
		}
		return l.cache.ApplyMarkedRead(evt.WaID)
	case handlers.EventConnected:
		l.log.Debug("gateway connected", zap.ByteString("data", frame.Data))
	}
	return false
}

func (l *Live) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return websocket.ErrCloseSent
	}
	return l.conn.WriteJSON(handlers.ClientFrame{Event: event, Data: data})
}

// Join subscribes the connection to waID's conversation events.
func (l *Live) Join(waID string) error {
	return l.send(services.EventJoinConversation, waID)
}

// Leave unsubscribes from waID.
func (l *Live) Leave(waID string) error {
	return l.send(services.EventLeaveConversation, waID)
}

// Typing relays a typing indicator to other viewers of waID.
func (l *Live) Typing(waID string, typing bool) error {
	return l.send(services.EventTyping, handlers.TypingEvent{WaID: waID, Typing: typing})
}
