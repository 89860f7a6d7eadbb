package chat

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// Conversation returns messages exchanged between a and b in either
	// direction, oldest first.
	Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead flags every unread message from sender to receiver as read
	// and returns how many changed.
	MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int, error)
	// FindByAttachment returns the message carrying blobID.
	FindByAttachment(ctx context.Context, blobID string) (*Message, error)
}
