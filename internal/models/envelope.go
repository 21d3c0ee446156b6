package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// WebhookPayloadType is the only envelope type tag accepted by the ingestion routes.
const WebhookPayloadType = "whatsapp_webhook"

// FlexString decodes a JSON string or number into its string form.
// Upstream sends ids and epoch timestamps in either shape.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// objects, arrays and booleans carry no usable value
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// MessageText is the text field of an upstream message: either {"body": "..."} or a bare string.
type MessageText string

func (t *MessageText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = ""
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = MessageText(s)
	case '{':
		var body struct {
			Body *string `json:"body"`
		}
		if err := json.Unmarshal(data, &body); err == nil && body.Body != nil {
			*t = MessageText(*body.Body)
		}
	}
	return nil
}

// WebhookEnvelope is the outer webhook body.
type WebhookEnvelope struct {
	PayloadType string          `json:"payload_type"`
	MetaData    WebhookMetaData `json:"metaData"`
}

type WebhookMetaData struct {
	Entry []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      FlexString      `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue holds the event data of a single change.
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []WebhookStatus  `json:"statuses"`
}

type WebhookContact struct {
	WaID    FlexString `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	ID        FlexString  `json:"id"`
	From      FlexString  `json:"from"`
	Timestamp FlexString  `json:"timestamp"`
	Type      string      `json:"type"`
	Text      MessageText `json:"text"`
}

type WebhookStatus struct {
	ID          FlexString `json:"id"`
	MetaMsgID   FlexString `json:"meta_msg_id"`
	Status      FlexString `json:"status"`
	Timestamp   FlexString `json:"timestamp"`
	RecipientID FlexString `json:"recipient_id"`
}

// MessageID resolves the primary id, falling back to meta_msg_id.
func (s WebhookStatus) MessageID() string {
	if id := s.ID.String(); id != "" {
		return id
	}
	return s.MetaMsgID.String()
}

// Instants must fit years 0001 through 9999 to survive time.Time JSON encoding.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// EpochSeconds parses an upstream epoch-seconds value. ok is false when no
// encodable instant can be derived.
func EpochSeconds(v FlexString) (int64, bool) {
	s := v.String()
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n >= minEpochSeconds && n <= maxEpochSeconds
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < minEpochSeconds || f > maxEpochSeconds {
		return 0, false
	}
	return int64(f), true
}
