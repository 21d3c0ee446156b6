package models

import (
	"strings"
	"time"
)

// MessageStatus represents the delivery/read status of a message.
// Valid values: "sent", "delivered", "read".
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// UnknownName is stored when the webhook carries no contact profile.
const UnknownName = "Unknown"

// LocalMessagePrefix marks message ids synthesized for client-originated messages.
const LocalMessagePrefix = "local-"

// ParseMessageStatus lowercases s and reports whether it is a known status.
func ParseMessageStatus(s string) (MessageStatus, bool) {
	st := MessageStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead:
		return st, true
	}
	return st, false
}

// Message is stored in the processed_messages collection, one document per msg_id.
// Content fields are written once; only Status changes after creation.
type Message struct {
	MsgID     string        `bson:"msg_id" json:"msg_id"`
	WaID      string        `bson:"wa_id" json:"wa_id"`
	Name      string        `bson:"name" json:"name"`
	Text      string        `bson:"text" json:"text"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
	Status    MessageStatus `bson:"status" json:"status"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

// IsLocal reports whether the message was created through the send API.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.MsgID, LocalMessagePrefix)
}

// StatusEvent is a status change extracted from a webhook. It is never stored on its own.
type StatusEvent struct {
	MsgID     string        `json:"msg_id"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}
