package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

// Extraction rejections. These are expected outcomes for malformed upstream data,
// not faults: callers map them to a client error and move on.
var (
	ErrMalformedPayload     = errors.New("malformed JSON payload")
	ErrPayloadType          = errors.New("invalid payload type")
	ErrEnvelopeShape        = errors.New("invalid payload structure")
	ErrNoMessage            = errors.New("no valid message found in payload")
	ErrMissingMessageFields = errors.New("message is missing id or from")
	ErrNoStatus             = errors.New("invalid status payload structure")
)

// envelopeSchemaJSON pins the only part of the upstream shape we rely on:
// a type tag and a path down to entry[0].changes[0].value.
const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["payload_type", "metaData"],
  "properties": {
    "payload_type": {"const": "whatsapp_webhook"},
    "metaData": {
      "type": "object",
      "required": ["entry"],
      "properties": {
        "entry": {
          "type": "array",
          "minItems": 1,
          "prefixItems": [{
            "type": "object",
            "required": ["changes"],
            "properties": {
              "changes": {
                "type": "array",
                "minItems": 1,
                "prefixItems": [{
                  "type": "object",
                  "required": ["value"],
                  "properties": {
                    "value": {
                      "type": "object",
                      "properties": {
                        "messages": {"type": "array"},
                        "contacts": {"type": "array"},
                        "statuses": {"type": "array"}
                      }
                    }
                  }
                }]
              }
            }
          }]
        }
      }
    }
  }
}`

const envelopeSchemaURL = "whatsapp-envelope.json"

var envelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	return c.MustCompile(envelopeSchemaURL)
}

// DecodeEnvelope validates raw against the envelope schema and decodes it.
// The returned envelope always has at least one entry with at least one change.
func DecodeEnvelope(raw []byte) (*models.WebhookEnvelope, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok || obj["payload_type"] != models.WebhookPayloadType {
		return nil, ErrPayloadType
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeShape, err)
	}

	var env models.WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeShape, err)
	}
	if len(env.MetaData.Entry) == 0 || len(env.MetaData.Entry[0].Changes) == 0 {
		return nil, ErrEnvelopeShape
	}
	return &env, nil
}

func firstValue(env *models.WebhookEnvelope) *models.WebhookValue {
	return &env.MetaData.Entry[0].Changes[0].Value
}

// resolveTimestamp turns an epoch-seconds value into an instant, substituting now when invalid.
func resolveTimestamp(v models.FlexString, now time.Time) time.Time {
	if secs, ok := models.EpochSeconds(v); ok {
		return time.Unix(secs, 0).UTC()
	}
	return now.UTC()
}

// ExtractMessage returns the first message carried by raw, or a rejection.
// now is used when the upstream timestamp is missing or invalid.
func ExtractMessage(raw []byte, now time.Time) (*models.Message, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return MessageFromEnvelope(env, now)
}

// MessageFromEnvelope normalizes the first message of a decoded envelope.
func MessageFromEnvelope(env *models.WebhookEnvelope, now time.Time) (*models.Message, error) {
	value := firstValue(env)
	if len(value.Messages) == 0 {
		return nil, ErrNoMessage
	}
	wm := value.Messages[0]
	id, from := wm.ID.String(), wm.From.String()
	if id == "" || from == "" {
		return nil, ErrMissingMessageFields
	}

	name := models.UnknownName
	if len(value.Contacts) > 0 && value.Contacts[0].Profile.Name != "" {
		name = value.Contacts[0].Profile.Name
	}

	return &models.Message{
		MsgID:     id,
		WaID:      from,
		Name:      name,
		Text:      string(wm.Text),
		Timestamp: resolveTimestamp(wm.Timestamp, now),
		Status:    models.MessageStatusSent,
	}, nil
}

// ExtractStatuses returns every usable status entry in raw. Entries without a
// resolvable id or status are dropped; an unusable envelope yields an empty list.
func ExtractStatuses(raw []byte, now time.Time) []models.StatusEvent {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return []models.StatusEvent{}
	}
	return StatusesFromEnvelope(env, now)
}

// StatusesFromEnvelope normalizes every status of the first change of env.
func StatusesFromEnvelope(env *models.WebhookEnvelope, now time.Time) []models.StatusEvent {
	statuses := firstValue(env).Statuses
	out := make([]models.StatusEvent, 0, len(statuses))
	for _, s := range statuses {
		id := s.MessageID()
		status := strings.ToLower(s.Status.String())
		if id == "" || status == "" {
			continue
		}
		out = append(out, models.StatusEvent{
			MsgID:     id,
			Status:    models.MessageStatus(status),
			Timestamp: resolveTimestamp(s.Timestamp, now),
		})
	}
	return out
}

// FirstStatus returns the status at entry[0].changes[0].value.statuses[0].
func FirstStatus(env *models.WebhookEnvelope) (models.WebhookStatus, bool) {
	statuses := firstValue(env).Statuses
	if len(statuses) == 0 {
		return models.WebhookStatus{}, false
	}
	return statuses[0], true
}
