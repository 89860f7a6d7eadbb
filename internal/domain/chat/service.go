package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/blobstore"
)

type Identity interface {
	FindUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo   Repository
	users  Identity
	blobs  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo Repository, users Identity, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		blobs:  blobs,
		logger: logger.With().Str("component", "chat").Logger(),
	}
}

// Send stores a message from senderID. A message needs a body, a file, or
// both. Files go to the blob store first and are removed again if the
// message cannot be saved.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, in SendInput) (*Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" && in.File == nil {
		return nil, fmt.Errorf("%w: message or file is required", ErrValidation)
	}
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, MaxBodyLen)
	}
	if in.ReceiverID == senderID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	if _, err := s.users.FindUser(ctx, in.ReceiverID); err != nil {
		return nil, err
	}

	msg := &Message{SenderID: senderID, ReceiverID: in.ReceiverID, Body: body}
	if in.File != nil {
		meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
			FileName:    in.File.Name,
			ContentType: in.File.ContentType,
			CreatedBy:   senderID.String(),
		}, in.File.Content)
		if err != nil {
			return nil, uploadError(err)
		}
		msg.Attachment = &Attachment{ID: meta.ID, Name: meta.FileName, ContentType: meta.ContentType, Size: meta.Size}
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		if msg.Attachment != nil {
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), msg.Attachment.ID); derr != nil {
				s.logger.Warn().Err(derr).Str("blob_id", msg.Attachment.ID).Msg("orphaned chat attachment")
			}
		}
		return nil, err
	}

	ev := s.logger.Debug().
		Str("message_id", msg.ID.String()).
		Str("sender_id", senderID.String()).
		Str("receiver_id", in.ReceiverID.String())
	if msg.Attachment != nil {
		ev = ev.Str("blob_id", msg.Attachment.ID).Int64("size", msg.Attachment.Size)
	}
	ev.Msg("chat message sent")
	return msg, nil
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrMissingFileName):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return fmt.Errorf("store attachment: %w", err)
	}
}

// Conversation returns the messages between actorID and otherID in both
// directions, oldest first.
func (s *Service) Conversation(ctx context.Context, actorID, otherID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.repo.Conversation(ctx, actorID, otherID, limit, offset)
}

// MarkRead marks otherID's unread messages to actorID as read.
func (s *Service) MarkRead(ctx context.Context, actorID, otherID uuid.UUID) (int, error) {
	return s.repo.MarkRead(ctx, otherID, actorID)
}

// Attachment opens a stored file. Only the sender and receiver of the
// message that carries it may read it. The caller closes the reader.
func (s *Service) Attachment(ctx context.Context, actorID uuid.UUID, blobID string) (io.ReadCloser, *Attachment, error) {
	msg, err := s.repo.FindByAttachment(ctx, blobID)
	if err != nil {
		return nil, nil, err
	}
	if actorID != msg.SenderID && actorID != msg.ReceiverID {
		return nil, nil, ErrForbidden
	}
	rc, _, err := s.blobs.Download(ctx, blobID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return rc, msg.Attachment, nil
}
