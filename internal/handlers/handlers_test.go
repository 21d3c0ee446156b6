package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/internal/store"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

func webhookBody(value map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"payload_type": models.WebhookPayloadType,
		"_id":          "conv1-msg1-user",
		"metaData": map[string]any{
			"entry": []any{
				map[string]any{
					"changes": []any{
						map[string]any{"field": "messages", "value": value},
					},
				},
			},
		},
	})
	return string(raw)
}

func messageBody(id, from, name, text string, ts int64) string {
	return webhookBody(map[string]any{
		"contacts": []any{
			map[string]any{"wa_id": from, "profile": map[string]any{"name": name}},
		},
		"messages": []any{
			map[string]any{
				"id":        id,
				"from":      from,
				"timestamp": fmt.Sprint(ts),
				"type":      "text",
				"text":      map[string]any{"body": text},
			},
		},
	})
}

func statusBody(id, status string) string {
	return webhookBody(map[string]any{
		"statuses": []any{
			map[string]any{"id": id, "status": status, "timestamp": "1754400000"},
		},
	})
}

type testServer struct {
	router *chi.Mux
	svc    *services.IngestionService
	store  *store.MemoryStore
	hub    *services.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	st := store.NewMemoryStore()
	hub := services.NewHub(log)
	svc := services.NewIngestionService(st, hub, log)

	webhook := NewWebhookHandler(svc, log, 0)
	messages := NewMessageHandler(svc, log, 0)

	r := chi.NewRouter()
	r.Post("/api/webhook", webhook.Message)
	r.Post("/api/webhook/status", webhook.Status)
	r.Get("/api/messages/conversations", messages.ListConversations)
	r.Get("/api/messages/conversations/{wa_id}", messages.GetConversation)
	r.Put("/api/messages/conversations/{wa_id}/read", messages.MarkRead)
	r.Post("/api/messages/send", messages.Send)
	r.Get("/ws", NewWSHandler(hub, hub, log).ServeWS)

	return &testServer{router: r, svc: svc, store: st, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestWebhookMessage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/webhook", messageBody("wamid.1", "919937320320", "Ravi Kumar", "Hi there", 1754400000))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp WebhookResponse
	decode(t, rec, &resp)
	if !resp.Success || resp.Data == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Data.MsgID != "wamid.1" || resp.Data.Status != models.MessageStatusSent || resp.Data.Name != "Ravi Kumar" {
		t.Errorf("stored = %+v", resp.Data)
	}

	// a replay returns the original record
	rec = s.do(t, http.MethodPost, "/api/webhook", messageBody("wamid.1", "919937320320", "Someone Else", "changed", 1754400999))
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	decode(t, rec, &resp)
	if resp.Data.Text != "Hi there" {
		t.Errorf("replay text = %q, want original", resp.Data.Text)
	}
}

func TestWebhookMessageRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"payload_type":`, ErrorCodeInvalidJSON},
		{"wrong payload type", `{"payload_type":"other","metaData":{}}`, string(services.KindValidation)},
		{"no messages", webhookBody(map[string]any{"messages": []any{}}), string(services.KindValidation)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/webhook", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Success || resp.Error != tt.wantCode || resp.Message == "" {
				t.Errorf("response = %+v, want code %s", resp, tt.wantCode)
			}
			all, _ := s.store.ListAll(context.Background())
			if len(all) != 0 {
				t.Errorf("store holds %d messages after rejection", len(all))
			}
		})
	}
}

func TestWebhookBodyTooLarge(t *testing.T) {
	log := logger.Nop()
	svc := services.NewIngestionService(store.NewMemoryStore(), nil, log)
	h := NewWebhookHandler(svc, log, 16)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	h.Message(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestWebhookStatus(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/webhook", messageBody("wamid.1", "919937320320", "Ravi", "Hi", 1754400000))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"known id", statusBody("wamid.1", "read"), http.StatusOK, ""},
		{"mixed case status", statusBody("wamid.1", "DELIVERED"), http.StatusOK, ""},
		{"unknown id", statusBody("wamid.missing", "read"), http.StatusNotFound, string(services.KindNotFound)},
		{"invalid status", statusBody("wamid.1", "seen"), http.StatusBadRequest, string(services.KindValidation)},
		{"missing id", statusBody("", "read"), http.StatusBadRequest, string(services.KindValidation)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/webhook/status", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode == "" {
				var resp WebhookResponse
				decode(t, rec, &resp)
				if !resp.Success || resp.Data == nil || resp.Data.MsgID != "wamid.1" {
					t.Errorf("response = %+v", resp)
				}
				return
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}

	msgs, _ := s.store.ListByCounterparty(context.Background(), "919937320320", store.Ascending)
	if len(msgs) != 1 || msgs[0].Status != models.MessageStatusDelivered {
		t.Errorf("final status = %+v, want delivered (last writer wins)", msgs)
	}
}

func TestListConversations(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/webhook", messageBody("m1", "111", "Alice", "first", 1754400000))
	s.do(t, http.MethodPost, "/api/webhook", messageBody("m2", "222", "Bob", "second", 1754400100))
	s.do(t, http.MethodPost, "/api/webhook", messageBody("m3", "111", "Alice", "third", 1754400200))

	rec := s.do(t, http.MethodGet, "/api/messages/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ConversationsResponse
	decode(t, rec, &resp)
	if resp.Count != 2 || len(resp.Data) != 2 {
		t.Fatalf("count = %d, data = %d", resp.Count, len(resp.Data))
	}
	if resp.Data[0].WaID != "111" || resp.Data[0].LastMessage != "third" || resp.Data[0].UnreadCount != 2 {
		t.Errorf("first conversation = %+v", resp.Data[0])
	}
	if resp.Data[1].WaID != "222" {
		t.Errorf("second conversation = %s, want 222", resp.Data[1].WaID)
	}
}

func TestWebhookOutOfRangeTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
	}{
		{"far future", 300000000000},
		{"negative year", -70000000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			before := time.Now().Add(-time.Minute)

			rec := s.do(t, http.MethodPost, "/api/webhook", messageBody("wamid.far", "222", "B", "far", tt.ts))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			var resp WebhookResponse
			decode(t, rec, &resp)
			if resp.Data == nil || resp.Data.Timestamp.Before(before) || resp.Data.Timestamp.Year() > 9999 {
				t.Fatalf("stored = %+v, want processing time", resp.Data)
			}

			rec = s.do(t, http.MethodGet, "/api/messages/conversations", "")
			var list ConversationsResponse
			decode(t, rec, &list)
			if list.Count != 1 {
				t.Errorf("count = %d, want 1", list.Count)
			}
		})
	}
}

func TestListConversationsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/messages/conversations", "")
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty array", rec.Body.String())
	}
}

func TestGetConversationPaging(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 120; i++ {
		s.do(t, http.MethodPost, "/api/webhook",
			messageBody(fmt.Sprintf("p.%03d", i), "333", "Carol", fmt.Sprintf("msg %d", i), int64(1754400000+i)))
	}

	tests := []struct {
		query     string
		wantCount int
		wantFirst string
		wantNext  bool
		wantPrev  bool
	}{
		{"", 50, "p.070", true, false},
		{"?page=2", 50, "p.020", true, true},
		{"?page=3", 20, "p.000", false, true},
		{"?page=9", 0, "", false, true},
		{"?limit=500", 100, "p.020", true, false},
		{"?limit=abc&page=-2", 50, "p.070", true, false},
		{"?page=100000000000000000&limit=100", 0, "", false, true},
	}

	for _, tt := range tests {
		t.Run("query"+tt.query, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/messages/conversations/333"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp PageResponse
			decode(t, rec, &resp)
			page := resp.Data
			if len(page.Messages) != tt.wantCount {
				t.Fatalf("messages = %d, want %d", len(page.Messages), tt.wantCount)
			}
			if tt.wantCount > 0 && page.Messages[0].MsgID != tt.wantFirst {
				t.Errorf("first = %s, want %s", page.Messages[0].MsgID, tt.wantFirst)
			}
			if page.Pagination.TotalMessages != 120 {
				t.Errorf("total = %d", page.Pagination.TotalMessages)
			}
			if page.Pagination.HasNext != tt.wantNext || page.Pagination.HasPrev != tt.wantPrev {
				t.Errorf("pagination = %+v", page.Pagination)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/webhook", messageBody("m1", "111", "Alice", "one", 1754400000))
	s.do(t, http.MethodPost, "/api/webhook", messageBody("m2", "111", "Alice", "two", 1754400001))

	var resp MarkReadResponse
	rec := s.do(t, http.MethodPut, "/api/messages/conversations/111/read", "")
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Data.ModifiedCount != 2 {
		t.Fatalf("first mark read: %d %+v", rec.Code, resp.Data)
	}

	rec = s.do(t, http.MethodPut, "/api/messages/conversations/111/read", "")
	decode(t, rec, &resp)
	if resp.Data.ModifiedCount != 0 {
		t.Errorf("second mark read modified %d, want 0", resp.Data.ModifiedCount)
	}
}

func TestSend(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/messages/send", `{"wa_id":"111","name":"Alice","text":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SendResponse
	decode(t, rec, &resp)
	if !resp.Data.IsLocal() || resp.Data.Status != models.MessageStatusSent {
		t.Errorf("sent = %+v", resp.Data)
	}

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing text", `{"wa_id":"111"}`, string(services.KindValidation)},
		{"missing wa_id", `{"text":"x"}`, string(services.KindValidation)},
		{"bad json", `{`, ErrorCodeInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/messages/send", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Error != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

type stubChecker struct{ err error }

func (c stubChecker) Ready(ctx context.Context) error { return c.err }

func TestHealthAndReady(t *testing.T) {
	h := NewHealthHandler(stubChecker{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	decode(t, rec, &health)
	if rec.Code != http.StatusOK || health.Status != "OK" || health.Timestamp.IsZero() {
		t.Errorf("health = %d %+v", rec.Code, health)
	}

	tests := []struct {
		name    string
		checker ReadinessChecker
		want    int
	}{
		{"reachable", stubChecker{}, http.StatusOK},
		{"unreachable", stubChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"no store", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checker).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type failingStore struct{ store.MessageStore }

func (failingStore) ListAll(ctx context.Context) ([]models.Message, error) {
	return nil, errors.New("mongo: server selection timeout")
}

func TestStoreFailureHidesDetail(t *testing.T) {
	log := logger.Nop()
	svc := services.NewIngestionService(failingStore{store.NewMemoryStore()}, nil, log)
	h := NewMessageHandler(svc, log, 0)

	rec := httptest.NewRecorder()
	h.ListConversations(rec, httptest.NewRequest(http.MethodGet, "/api/messages/conversations", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("server selection")) {
		t.Errorf("store detail leaked: %s", rec.Body.String())
	}
	var resp ErrorResponse
	decode(t, rec, &resp)
	if resp.Error != string(services.KindStoreFailure) {
		t.Errorf("code = %q", resp.Error)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"3", 3},
		{"-1", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?page="+tt.raw, nil)
		if got := queryInt(req, "page"); got != tt.want {
			t.Errorf("queryInt(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

// waitForDelivery pokes hub until a frame for waID reaches want subscribers.
func waitForDelivery(t *testing.T, hub *services.Hub, waID, exclude string, want int) {
	t.Helper()
	marker, _ := services.EncodeFrame("sync", map[string]string{"wa_id": waID})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Deliver(waID, exclude, marker) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber joined %s", waID)
}
