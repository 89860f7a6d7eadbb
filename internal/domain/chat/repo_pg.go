package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/platform/db"
)

type messageRepoPG struct {
	db db.Querier
}

func NewMessageRepo(q db.Querier) Repository {
	return &messageRepoPG{db: q}
}

func (r *messageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const messageCols = `id, sender_id, receiver_id, body, attachment_id, attachment_name,
	attachment_content_type, attachment_size, read, created_at`

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	var (
		attID, attName, attType *string
		attSize                 *int64
	)
	if a := m.Attachment; a != nil {
		attID, attName, attType, attSize = &a.ID, &a.Name, &a.ContentType, &a.Size
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_messages (id, sender_id, receiver_id, body, attachment_id, attachment_name,
			attachment_content_type, attachment_size, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		RETURNING created_at`,
		m.ID, m.SenderID, m.ReceiverID, m.Body, attID, attName, attType, attSize,
	).Scan(&m.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return identity.ErrUserNotFound
		}
		return fmt.Errorf("chat create: %w", err)
	}
	return nil
}

func (r *messageRepoPG) Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	const where = ` WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`+where, a, b).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("chat count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageCols+` FROM chat_messages`+where+` ORDER BY created_at ASC, id LIMIT $3 OFFSET $4`,
		a, b, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("chat conversation: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("chat scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("chat conversation: %w", err)
	}
	return out, total, nil
}

func (r *messageRepoPG) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE chat_messages SET read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND read = FALSE`,
		senderID, receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("chat mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *messageRepoPG) FindByAttachment(ctx context.Context, blobID string) (*Message, error) {
	m, err := scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM chat_messages WHERE attachment_id = $1`, blobID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chat find attachment: %w", err)
	}
	return m, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m                       Message
		attID, attName, attType *string
		attSize                 *int64
	)
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &attID, &attName, &attType, &attSize, &m.Read, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if attID != nil {
		m.Attachment = &Attachment{ID: *attID}
		if attName != nil {
			m.Attachment.Name = *attName
		}
		if attType != nil {
			m.Attachment.ContentType = *attType
		}
		if attSize != nil {
			m.Attachment.Size = *attSize
		}
	}
	return &m, nil
}
