package services

import (
	"sort"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
)

func hasRealName(name string) bool {
	return name != "" && name != models.UnknownName
}

// conversationBuilder folds messages of one wa_id.
type conversationBuilder struct {
	conv models.Conversation
}

func (b *conversationBuilder) add(m models.Message) {
	b.conv.Messages = append(b.conv.Messages, m)
	if b.conv.LastTimestamp == nil || m.Timestamp.After(*b.conv.LastTimestamp) {
		ts := m.Timestamp
		b.conv.LastTimestamp = &ts
		b.conv.LastMessage = m.Text
	}
	if m.Status != models.MessageStatusRead {
		b.conv.UnreadCount++
	}
	if hasRealName(m.Name) {
		b.conv.Name = m.Name
	}
}

// AggregateConversations groups msgs (timestamp ascending) by wa_id and returns
// the conversations most recently active first. Equal lastTimestamps keep the
// order in which their wa_id was first seen.
func AggregateConversations(msgs []models.Message) []models.Conversation {
	index := make(map[string]int)
	builders := make([]*conversationBuilder, 0)

	for _, m := range msgs {
		i, ok := index[m.WaID]
		if !ok {
			i = len(builders)
			index[m.WaID] = i
			builders = append(builders, &conversationBuilder{
				conv: models.Conversation{
					WaID:     m.WaID,
					Name:     m.Name,
					Messages: []models.Message{},
				},
			})
		}
		builders[i].add(m)
	}

	out := make([]models.Conversation, len(builders))
	for i, b := range builders {
		out[i] = b.conv
	}
	sortConversations(out)
	return out
}

// sortConversations orders by lastTimestamp descending; conversations without
// a timestamp sink to the end.
func sortConversations(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastTimestamp, convs[j].LastTimestamp
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.After(*b)
	})
}
