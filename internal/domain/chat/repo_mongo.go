package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardiocare/cardiocare/internal/platform/mongodb"
)

type attachmentDoc struct {
	ID          string `bson:"id"`
	Name        string `bson:"name"`
	ContentType string `bson:"content_type"`
	Size        int64  `bson:"size"`
}

type messageDoc struct {
	ID         string         `bson:"_id"`
	SenderID   string         `bson:"sender_id"`
	ReceiverID string         `bson:"receiver_id"`
	Body       string         `bson:"body"`
	Attachment *attachmentDoc `bson:"attachment,omitempty"`
	Read       bool           `bson:"read"`
	CreatedAt  time.Time      `bson:"created_at"`
}

func (d messageDoc) toMessage() (*Message, error) {
	var (
		m   Message
		err error
	)
	if m.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, fmt.Errorf("chat doc id %q: %w", d.ID, err)
	}
	if m.SenderID, err = uuid.Parse(d.SenderID); err != nil {
		return nil, fmt.Errorf("chat doc sender %q: %w", d.SenderID, err)
	}
	if m.ReceiverID, err = uuid.Parse(d.ReceiverID); err != nil {
		return nil, fmt.Errorf("chat doc receiver %q: %w", d.ReceiverID, err)
	}
	m.Body = d.Body
	m.Read = d.Read
	m.CreatedAt = d.CreatedAt
	if a := d.Attachment; a != nil {
		m.Attachment = &Attachment{ID: a.ID, Name: a.Name, ContentType: a.ContentType, Size: a.Size}
	}
	return &m, nil
}

type messageRepoMongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMessageRepoMongo(database *mongo.Database) Repository {
	return &messageRepoMongo{coll: database.Collection(mongodb.ChatCollection), now: time.Now}
}

func (r *messageRepoMongo) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = r.now().UTC()
	d := messageDoc{
		ID:         m.ID.String(),
		SenderID:   m.SenderID.String(),
		ReceiverID: m.ReceiverID.String(),
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
	if a := m.Attachment; a != nil {
		d.Attachment = &attachmentDoc{ID: a.ID, Name: a.Name, ContentType: a.ContentType, Size: a.Size}
	}
	if _, err := r.coll.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("chat create: %w", err)
	}
	return nil
}

func (r *messageRepoMongo) Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a.String(), "receiver_id": b.String()},
		bson.M{"sender_id": b.String(), "receiver_id": a.String()},
	}}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("chat count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("chat conversation: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Message
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, fmt.Errorf("chat decode: %w", err)
		}
		m, err := d.toMessage()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("chat conversation: %w", err)
	}
	return out, int(total), nil
}

func (r *messageRepoMongo) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"sender_id": senderID.String(), "receiver_id": receiverID.String(), "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("chat mark read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (r *messageRepoMongo) FindByAttachment(ctx context.Context, blobID string) (*Message, error) {
	var d messageDoc
	if err := r.coll.FindOne(ctx, bson.M{"attachment.id": blobID}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chat find attachment: %w", err)
	}
	return d.toMessage()
}
