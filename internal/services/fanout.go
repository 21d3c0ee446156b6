package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/metrics"
)

// Fanout emits realtime events. Delivery is fire-and-forget: a returned error
// means the event could not be handed off, never that a subscriber missed it.
type Fanout interface {
	// NotifyConversation reaches subscribers that joined waID.
	NotifyConversation(ctx context.Context, waID, event string, payload any) error
	// NotifyAll reaches every connected subscriber.
	NotifyAll(ctx context.Context, event string, payload any) error
	// Relay reaches subscribers that joined waID except senderID.
	Relay(ctx context.Context, waID, senderID, event string, payload any) error
}

// Fan-out backend names accepted by FANOUT_BACKEND.
const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
	FanoutNATS  = "nats"
)

// Broker channel and subject names.
const (
	redisConversationPrefix = "chat:conversation:"
	redisBroadcastChannel   = "chat:broadcast"
	natsConversationPrefix  = "chat.conversation."
	natsBroadcastSubject    = "chat.broadcast"
	natsWildcard            = "chat.>"
)

// ErrFanoutUnavailable is returned when a brokered backend has no connection.
var ErrFanoutUnavailable = errors.New("fan-out broker not connected")

// wireEvent is what crosses the broker. Every instance decodes it and delivers
// the frame to its own Hub.
type wireEvent struct {
	WaID    string          `json:"wa_id,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

func newWireEvent(waID, exclude, event string, payload any) ([]byte, error) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{WaID: waID, Exclude: exclude, Frame: frame})
}

func deliverWire(hub *Hub, log *logger.Logger, data []byte) {
	var evt wireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Warn("failed to unmarshal fan-out event", zap.Error(err))
		return
	}
	hub.Deliver(evt.WaID, evt.Exclude, evt.Frame)
}

// RedisFanout publishes over Redis pub/sub so every server instance sees every event.
type RedisFanout struct {
	client  *redis.Client
	hub     *Hub
	log     *logger.Logger
	started sync.Once
}

func NewRedisFanout(client *redis.Client, hub *Hub, log *logger.Logger) *RedisFanout {
	return &RedisFanout{client: client, hub: hub, log: log}
}

// Start launches the shared subscriber once per instance. It stops with ctx.
func (f *RedisFanout) Start(ctx context.Context) {
	f.started.Do(func() {
		go f.run(ctx)
	})
}

func (f *RedisFanout) run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := f.client.PSubscribe(ctx, redisConversationPrefix+"*", redisBroadcastChannel)
			defer func() { _ = pubsub.Close() }()

			f.log.Info("fan-out redis subscriber started")

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					f.log.Warn("fan-out redis subscriber error", zap.Error(err), zap.Duration("retry_in", backoff))
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second
				deliverWire(f.hub, f.log, []byte(msg.Payload))
			}
		}()
	}
}

func (f *RedisFanout) publish(ctx context.Context, channel, waID, exclude, event string, payload any) error {
	if f.client == nil {
		return ErrFanoutUnavailable
	}
	data, err := newWireEvent(waID, exclude, event, payload)
	if err != nil {
		return err
	}
	metrics.RecordFanout(event, scopeLabel(waID))
	return f.client.Publish(ctx, channel, data).Err()
}

func (f *RedisFanout) NotifyConversation(ctx context.Context, waID, event string, payload any) error {
	return f.publish(ctx, redisConversationPrefix+waID, waID, "", event, payload)
}

func (f *RedisFanout) NotifyAll(ctx context.Context, event string, payload any) error {
	return f.publish(ctx, redisBroadcastChannel, "", "", event, payload)
}

func (f *RedisFanout) Relay(ctx context.Context, waID, senderID, event string, payload any) error {
	return f.publish(ctx, redisConversationPrefix+waID, waID, senderID, event, payload)
}

// NATSFanout publishes on core NATS subjects. No JetStream: events are not durable.
type NATSFanout struct {
	conn *nats.Conn
	hub  *Hub
	log  *logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSFanout(conn *nats.Conn, hub *Hub, log *logger.Logger) *NATSFanout {
	return &NATSFanout{conn: conn, hub: hub, log: log}
}

// Start subscribes to every chat subject. Calling it twice is a no-op.
func (f *NATSFanout) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return nil
	}
	if f.conn == nil {
		return ErrFanoutUnavailable
	}
	sub, err := f.conn.Subscribe(natsWildcard, func(msg *nats.Msg) {
		deliverWire(f.hub, f.log, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", natsWildcard, err)
	}
	f.sub = sub
	f.log.Info("fan-out NATS subscriber started", zap.String("subject", natsWildcard))
	return nil
}

// Stop removes the subscription.
func (f *NATSFanout) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return nil
	}
	err := f.sub.Unsubscribe()
	f.sub = nil
	return err
}

// natsSubject maps waID to a single subject token. The wire event carries the
// real wa_id, so the mapping only needs to be stable.
func natsSubject(waID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, waID)
	return natsConversationPrefix + token
}

func (f *NATSFanout) publish(subject, waID, exclude, event string, payload any) error {
	if f.conn == nil {
		return ErrFanoutUnavailable
	}
	data, err := newWireEvent(waID, exclude, event, payload)
	if err != nil {
		return err
	}
	metrics.RecordFanout(event, scopeLabel(waID))
	return f.conn.Publish(subject, data)
}

func (f *NATSFanout) NotifyConversation(ctx context.Context, waID, event string, payload any) error {
	return f.publish(natsSubject(waID), waID, "", event, payload)
}

func (f *NATSFanout) NotifyAll(ctx context.Context, event string, payload any) error {
	return f.publish(natsBroadcastSubject, "", "", event, payload)
}

func (f *NATSFanout) Relay(ctx context.Context, waID, senderID, event string, payload any) error {
	return f.publish(natsSubject(waID), waID, senderID, event, payload)
}

// FanoutDeps holds the broker connections available to StartFanout.
type FanoutDeps struct {
	Redis *redis.Client
	NATS  *nats.Conn
}

// StartFanout builds the backend named by FANOUT_BACKEND on top of hub and
// starts its subscriber. Brokered backends fall back to the local hub when
// their connection is missing.
func StartFanout(ctx context.Context, backend string, hub *Hub, deps FanoutDeps, log *logger.Logger) Fanout {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case FanoutRedis:
		if deps.Redis == nil {
			log.Warn("redis fan-out requested without a redis client; using local hub")
			return hub
		}
		f := NewRedisFanout(deps.Redis, hub, log)
		f.Start(ctx)
		return f
	case FanoutNATS:
		if deps.NATS == nil {
			log.Warn("NATS fan-out requested without a connection; using local hub")
			return hub
		}
		f := NewNATSFanout(deps.NATS, hub, log)
		if err := f.Start(); err != nil {
			log.Error("NATS fan-out failed to start; using local hub", zap.Error(err))
			return hub
		}
		go func() {
			<-ctx.Done()
			_ = f.Stop()
		}()
		return f
	default:
		return hub
	}
}
