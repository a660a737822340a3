package repository

import (
	"context"

	"github.com/agentrt/core/internal/domain/entity"
)

// MessageRepository is the message repository interface.
type MessageRepository interface {
	// Save upserts a message.
	Save(ctx context.Context, message *entity.Message) error

	// FindByID looks up a message by ID.
	FindByID(ctx context.Context, id string) (*entity.Message, error)

	// FindByConversationID looks up a conversation's messages, paginated.
	FindByConversationID(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, error)

	// Delete removes a message.
	Delete(ctx context.Context, id string) error

	// Count returns the number of messages in a conversation.
	Count(ctx context.Context, conversationID string) (int64, error)
}
