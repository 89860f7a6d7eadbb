package prediction

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

type predictionDoc struct {
	ID            string         `bson:"_id"`
	UIN           string         `bson:"uin"`
	Score         float64        `bson:"score"`
	MedicalInputs map[string]any `bson:"medical_inputs"`
	Feedback      string         `bson:"feedback"`
	Status        string         `bson:"status"`
	ReviewedBy    *string        `bson:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `bson:"reviewed_at,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
}

func (d predictionDoc) toPrediction() (*Prediction, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("prediction doc id %q: %w", d.ID, err)
	}
	p := &Prediction{
		ID:            id,
		UIN:           d.UIN,
		Score:         d.Score,
		MedicalInputs: d.MedicalInputs,
		Feedback:      d.Feedback,
		Status:        Status(d.Status),
		ReviewedAt:    d.ReviewedAt,
		CreatedAt:     d.CreatedAt,
	}
	if p.MedicalInputs == nil {
		p.MedicalInputs = map[string]any{}
	}
	if d.ReviewedBy != nil {
		reviewer, err := uuid.Parse(*d.ReviewedBy)
		if err != nil {
			return nil, fmt.Errorf("prediction doc reviewer %q: %w", *d.ReviewedBy, err)
		}
		p.ReviewedBy = &reviewer
	}
	return p, nil
}

type predictionRepoMongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewPredictionRepoMongo(database *mongo.Database) Repository {
	return &predictionRepoMongo{coll: database.Collection(mongodb.PredictionsCollection), now: time.Now}
}

func (r *predictionRepoMongo) Create(ctx context.Context, p *Prediction) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.MedicalInputs == nil {
		p.MedicalInputs = map[string]any{}
	}
	p.CreatedAt = r.now().UTC()

	_, err := r.coll.InsertOne(ctx, predictionDoc{
		ID:            p.ID.String(),
		UIN:           p.UIN,
		Score:         p.Score,
		MedicalInputs: p.MedicalInputs,
		Feedback:      p.Feedback,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("prediction create: %w", err)
	}
	return nil
}

func (r *predictionRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	var d predictionDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prediction get: %w", err)
	}
	return d.toPrediction()
}

func (r *predictionRepoMongo) ListByUIN(ctx context.Context, uin string, limit, offset int) ([]*Prediction, int, error) {
	filter := bson.M{"uin": uin}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("prediction count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("prediction list: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Prediction
	for cur.Next(ctx) {
		var d predictionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, fmt.Errorf("prediction decode: %w", err)
		}
		p, err := d.toPrediction()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("prediction list: %w", err)
	}
	return out, int(total), nil
}

func (r *predictionRepoMongo) Review(ctx context.Context, id uuid.UUID, status Status, reviewer uuid.UUID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(StatusPending)},
		bson.M{"$set": bson.M{
			"status":      string(status),
			"reviewed_by": reviewer.String(),
			"reviewed_at": at.UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("prediction review: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *predictionRepoMongo) SetFeedback(ctx context.Context, id uuid.UUID, feedback string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"feedback": feedback}},
	)
	if err != nil {
		return fmt.Errorf("prediction feedback: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *predictionRepoMongo) CountByStatus(ctx context.Context, uin string) (Summary, error) {
	return r.countByStatus(ctx, bson.M{"uin": uin})
}

func (r *predictionRepoMongo) CountByStatusForUINs(ctx context.Context, uins []string) (Summary, error) {
	return r.countByStatus(ctx, bson.M{"uin": bson.M{"$in": uins}})
}

func (r *predictionRepoMongo) countByStatus(ctx context.Context, match bson.M) (Summary, error) {
	var sum Summary
	cur, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return sum, fmt.Errorf("prediction summary: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return sum, fmt.Errorf("prediction summary decode: %w", err)
		}
		sum.add(Status(row.Status), row.Count)
	}
	if err := cur.Err(); err != nil {
		return sum, fmt.Errorf("prediction summary: %w", err)
	}
	return sum, nil
}
