// Package inbox is a client of the conversation API and websocket gateway.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/chatrelay-backend/internal/handlers"
	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the HTTP API. It satisfies services.ConversationFetcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WebSocketURL derives the gateway URL from the API base URL.
func (c *Client) WebSocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e handlers.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Code, apiErr.Message = e.Error, e.Message
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp handlers.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ConversationPage(ctx context.Context, waID string, page, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var resp handlers.PageResponse
	path := "/api/messages/conversations/" + url.PathEscape(waID) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) MarkRead(ctx context.Context, waID string) (*models.MarkReadResult, error) {
	var resp handlers.MarkReadResponse
	if err := c.do(ctx, http.MethodPut, "/api/messages/conversations/"+url.PathEscape(waID)+"/read", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Send(ctx context.Context, waID, name, text string) (*models.Message, error) {
	var resp handlers.SendResponse
	req := handlers.SendRequest{WaID: waID, Name: name, Text: text}
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
