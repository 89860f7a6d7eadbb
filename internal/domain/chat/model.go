package chat

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("attachment not found")
	ErrForbidden  = errors.New("not a participant in this conversation")
	ErrValidation = errors.New("validation error")
)

// MaxBodyLen bounds a message body in bytes.
const MaxBodyLen = 5000

// Attachment describes a file stored in the blob store.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Message struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	ReceiverID uuid.UUID   `json:"receiver_id"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Read       bool        `json:"read"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Upload is a file supplied with a message.
type Upload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type SendInput struct {
	ReceiverID uuid.UUID
	Body       string
	File       *Upload
}
