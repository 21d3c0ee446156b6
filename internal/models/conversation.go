package models

import "time"

// Conversation is a derived view over every message exchanged with one wa_id.
// It is recomputed on read and never persisted.
type Conversation struct {
	WaID          string     `json:"wa_id"`
	Name          string     `json:"name"`
	LastMessage   string     `json:"lastMessage"`
	LastTimestamp *time.Time `json:"lastTimestamp"`
	UnreadCount   int        `json:"unreadCount"`
	Messages      []Message  `json:"messages"`
}

// Pagination describes the window returned by a conversation page request.
type Pagination struct {
	CurrentPage   int   `json:"currentPage"`
	TotalPages    int   `json:"totalPages"`
	TotalMessages int64 `json:"totalMessages"`
	HasNext       bool  `json:"hasNext"`
	HasPrev       bool  `json:"hasPrev"`
}

// MessagePage is one time-ascending window of a conversation.
type MessagePage struct {
	WaID       string     `json:"wa_id"`
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// MarkReadResult is returned by the bulk mark-read operation.
type MarkReadResult struct {
	WaID          string `json:"wa_id"`
	ModifiedCount int64  `json:"modifiedCount"`
}
