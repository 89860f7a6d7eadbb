package connection

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

type requestDoc struct {
	ID          string     `bson:"_id"`
	DoctorID    string     `bson:"doctor_id"`
	PatientID   string     `bson:"patient_id"`
	Initiator   string     `bson:"initiator"`
	Status      string     `bson:"status"`
	RequestedAt time.Time  `bson:"requested_at"`
	RespondedAt *time.Time `bson:"responded_at,omitempty"`
}

func (d requestDoc) toRequest() (*Request, error) {
	var (
		req Request
		err error
	)
	if req.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, fmt.Errorf("connection doc id %q: %w", d.ID, err)
	}
	if req.DoctorID, err = uuid.Parse(d.DoctorID); err != nil {
		return nil, fmt.Errorf("connection doc doctor id %q: %w", d.DoctorID, err)
	}
	if req.PatientID, err = uuid.Parse(d.PatientID); err != nil {
		return nil, fmt.Errorf("connection doc patient id %q: %w", d.PatientID, err)
	}
	track, err := ParseTrack(d.Initiator)
	if err != nil {
		return nil, err
	}
	if req.Status, err = ParseStatus(track, d.Status); err != nil {
		return nil, err
	}
	req.RequestedAt = d.RequestedAt
	req.RespondedAt = d.RespondedAt
	return &req, nil
}

type requestRepoMongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewRequestRepoMongo(database *mongo.Database) Repository {
	return &requestRepoMongo{coll: database.Collection(mongodb.ConnectionsCollection), now: time.Now}
}

func (r *requestRepoMongo) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.RequestedAt = r.now().UTC()

	_, err := r.coll.InsertOne(ctx, requestDoc{
		ID:          req.ID.String(),
		DoctorID:    req.DoctorID.String(),
		PatientID:   req.PatientID.String(),
		Initiator:   req.Status.Track.String(),
		Status:      req.Status.String(),
		RequestedAt: req.RequestedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("connection create: %w", err)
	}
	return nil
}

func (r *requestRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()}, nil)
}

func (r *requestRepoMongo) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*Request, error) {
	var d requestDoc
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connection get: %w", err)
	}
	return d.toRequest()
}

func (r *requestRepoMongo) HasPending(ctx context.Context, doctorID, patientID uuid.UUID, track Track) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"doctor_id":  doctorID.String(),
		"patient_id": patientID.String(),
		"status":     Initial(track).String(),
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("connection pending check: %w", err)
	}
	return n > 0, nil
}

func (r *requestRepoMongo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": from.String()},
		bson.M{"$set": bson.M{"status": to.String(), "responded_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("connection update status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *requestRepoMongo) RejectOtherPending(ctx context.Context, patientID, keepID uuid.UUID, at time.Time) (int, error) {
	pending := Initial(DoctorInitiated)
	rejected, _ := pending.Respond(false)
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"patient_id": patientID.String(),
			"_id":        bson.M{"$ne": keepID.String()},
			"status":     pending.String(),
		},
		bson.M{"$set": bson.M{"status": rejected.String(), "responded_at": at.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("connection supersede: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (r *requestRepoMongo) LatestAccepted(ctx context.Context, patientID uuid.UUID) (*Request, error) {
	return r.findOne(ctx,
		bson.M{
			"patient_id": patientID.String(),
			"status":     bson.M{"$in": statusStrings(AcceptedStatuses)},
		},
		options.FindOne().SetSort(bson.D{{Key: "responded_at", Value: -1}, {Key: "requested_at", Value: -1}}),
	)
}

func (r *requestRepoMongo) List(ctx context.Context, f Filter) ([]*Request, int, error) {
	field := "patient_id"
	if f.Party == PartyDoctor {
		field = "doctor_id"
	}
	filter := bson.M{field: f.UserID.String()}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(f.Statuses)}
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("connection count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "requested_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("connection list: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Request
	for cur.Next(ctx) {
		var d requestDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, fmt.Errorf("connection decode: %w", err)
		}
		req, err := d.toRequest()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("connection list: %w", err)
	}
	return out, int(total), nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}
