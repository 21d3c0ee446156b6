package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/metrics"
)

const (
	wsReadLimit    = 64 * 1024
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// EventConnected is sent once after the upgrade, carrying the subscriber id.
const EventConnected = "connected"

// originChecker admits requests without an Origin header (non-browser
// clients) and browsers whose origin is listed. An empty list or "*" admits all.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ClientFrame is what a websocket client sends.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// roomRef accepts either "12345" or {"wa_id": "12345"}.
type roomRef struct {
	WaID string `json:"wa_id"`
}

func parseRoom(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var ref roomRef
	if err := json.Unmarshal(data, &ref); err == nil {
		return strings.TrimSpace(ref.WaID)
	}
	return ""
}

// TypingEvent is relayed as user_typing.
type TypingEvent struct {
	WaID   string `json:"wa_id"`
	Typing bool   `json:"typing"`
}

// ReadReceiptEvent is relayed as message_read.
type ReadReceiptEvent struct {
	MsgID string `json:"msg_id"`
	WaID  string `json:"wa_id"`
}

// ConnectedEvent is the payload of the connected frame.
type ConnectedEvent struct {
	SubscriberID string `json:"subscriber_id"`
}

// WSHandler upgrades clients onto the realtime hub.
type WSHandler struct {
	hub      *services.Hub
	fanout   services.Fanout
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *services.Hub, fanout services.Fanout, log *logger.Logger) *WSHandler {
	if fanout == nil {
		fanout = hub
	}
	return &WSHandler{
		hub:    hub,
		fanout: fanout,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(nil),
		},
	}
}

// AllowOrigins restricts browser upgrades to the given origins.
func (h *WSHandler) AllowOrigins(origins []string) *WSHandler {
	h.upgrader.CheckOrigin = originChecker(origins)
	return h
}

// ServeWS handles GET /ws
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Register()
	defer h.hub.Unregister(sub.ID)

	metrics.IncrementWSConnections()
	defer metrics.DecrementWSConnections()

	log := h.logger.With(zap.String("subscriber", sub.ID))
	log.Info("websocket client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hello, err := services.EncodeFrame(EventConnected, ConnectedEvent{SubscriberID: sub.ID})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go h.writeLoop(ctx, conn, sub, done)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		h.handleClientFrame(ctx, log, sub.ID, frame)
	}

	cancel()
	<-done
	log.Info("websocket client disconnected")
}

// writeLoop forwards hub frames and keeps the connection alive with pings.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *services.Subscriber, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleClientFrame(ctx context.Context, log *logger.Logger, subID string, frame ClientFrame) {
	switch frame.Event {
	case services.EventJoinConversation:
		if waID := parseRoom(frame.Data); waID != "" {
			h.hub.Join(subID, waID)
			log.Debug("joined conversation", zap.String("wa_id", waID))
		}
	case services.EventLeaveConversation:
		if waID := parseRoom(frame.Data); waID != "" {
			h.hub.Leave(subID, waID)
			log.Debug("left conversation", zap.String("wa_id", waID))
		}
	case services.EventTyping:
		var evt TypingEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil || evt.WaID == "" {
			return
		}
		if err := h.fanout.Relay(ctx, evt.WaID, subID, services.EventUserTyping, evt); err != nil {
			log.Debug("typing relay failed", zap.Error(err))
		}
	case services.EventMarkRead:
		var evt ReadReceiptEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil || evt.WaID == "" || evt.MsgID == "" {
			return
		}
		if err := h.fanout.Relay(ctx, evt.WaID, subID, services.EventMessageRead, evt); err != nil {
			log.Debug("read receipt relay failed", zap.Error(err))
		}
	default:
		// unknown events are ignored
	}
}
