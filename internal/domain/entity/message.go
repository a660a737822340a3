package entity

import (
	"time"

	"github.com/agentrt/core/internal/domain/valueobject"
)

// Message is the conversation message entity.
type Message struct {
	id             string
	conversationID string
	content        valueobject.MessageContent
	sender         valueobject.User
	timestamp      time.Time
	metadata       map[string]interface{}
}

// NewMessage creates a new Message (factory method).
func NewMessage(
	id string,
	conversationID string,
	content valueobject.MessageContent,
	sender valueobject.User,
) (*Message, error) {
	if id == "" {
		return nil, ErrInvalidMessageID
	}
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	return &Message{
		id:             id,
		conversationID: conversationID,
		content:        content,
		sender:         sender,
		timestamp:      time.Now(),
		metadata:       make(map[string]interface{}),
	}, nil
}

// ReconstructMessage rebuilds a Message from persisted state.
func ReconstructMessage(
	id string,
	conversationID string,
	content valueobject.MessageContent,
	sender valueobject.User,
	timestamp time.Time,
	metadata map[string]interface{},
) *Message {
	return &Message{
		id:             id,
		conversationID: conversationID,
		content:        content,
		sender:         sender,
		timestamp:      timestamp,
		metadata:       metadata,
	}
}

// ID returns the message ID.
func (m *Message) ID() string {
	return m.id
}

// ConversationID returns the conversation ID.
func (m *Message) ConversationID() string {
	return m.conversationID
}

// Content returns the message content.
func (m *Message) Content() valueobject.MessageContent {
	return m.content
}

// Sender returns the sender.
func (m *Message) Sender() valueobject.User {
	return m.sender
}

// Timestamp returns the message timestamp.
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// SetMetadata sets a metadata entry.
func (m *Message) SetMetadata(key string, value interface{}) {
	m.metadata[key] = value
}

// GetMetadata retrieves a metadata entry.
func (m *Message) GetMetadata(key string) (interface{}, bool) {
	val, ok := m.metadata[key]
	return val, ok
}

// GetAllMetadata returns all metadata entries.
func (m *Message) GetAllMetadata() map[string]interface{} {
	result := make(map[string]interface{}, len(m.metadata))
	for k, v := range m.metadata {
		result[k] = v
	}
	return result
}

// Metadata is an alias for GetAllMetadata.
func (m *Message) Metadata() map[string]interface{} {
	return m.GetAllMetadata()
}

// IsFromUser reports whether the message came from a user (business rule).
func (m *Message) IsFromUser() bool {
	return m.sender.Type() == "user"
}

// IsFromBot reports whether the message came from a bot (business rule).
func (m *Message) IsFromBot() bool {
	return m.sender.Type() == "bot"
}
