package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/store"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func envelope(value map[string]any) []byte {
	raw, _ := json.Marshal(map[string]any{
		"payload_type": models.WebhookPayloadType,
		"_id":          "conv1-msg1-user",
		"metaData": map[string]any{
			"entry": []any{
				map[string]any{
					"id": "30164062719905277",
					"changes": []any{
						map[string]any{"field": "messages", "value": value},
					},
				},
			},
		},
	})
	return raw
}

func messagePayload(id, from, name, text string, ts any) []byte {
	value := map[string]any{
		"messaging_product": "whatsapp",
		"messages": []any{
			map[string]any{
				"id":        id,
				"from":      from,
				"timestamp": ts,
				"type":      "text",
				"text":      map[string]any{"body": text},
			},
		},
	}
	if name != "" {
		value["contacts"] = []any{
			map[string]any{"wa_id": from, "profile": map[string]any{"name": name}},
		}
	}
	return envelope(value)
}

func statusPayload(statuses ...map[string]any) []byte {
	list := make([]any, len(statuses))
	for i, s := range statuses {
		list[i] = s
	}
	return envelope(map[string]any{"messaging_product": "whatsapp", "statuses": list})
}

// recordedEvent is one emission captured by recordingFanout.
type recordedEvent struct {
	scope   string
	waID    string
	exclude string
	event   string
	payload any
}

type recordingFanout struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *recordingFanout) record(e recordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *recordingFanout) NotifyConversation(ctx context.Context, waID, event string, payload any) error {
	return f.record(recordedEvent{scope: "conversation", waID: waID, event: event, payload: payload})
}

func (f *recordingFanout) NotifyAll(ctx context.Context, event string, payload any) error {
	return f.record(recordedEvent{scope: "all", event: event, payload: payload})
}

func (f *recordingFanout) Relay(ctx context.Context, waID, senderID, event string, payload any) error {
	return f.record(recordedEvent{scope: "relay", waID: waID, exclude: senderID, event: event, payload: payload})
}

func (f *recordingFanout) named(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*IngestionService, *store.MemoryStore, *recordingFanout) {
	t.Helper()
	st := store.NewMemoryStore()
	fan := &recordingFanout{}
	svc := NewIngestionService(st, fan, logger.Nop(), WithClock(func() time.Time { return fixedNow }))
	return svc, st, fan
}
