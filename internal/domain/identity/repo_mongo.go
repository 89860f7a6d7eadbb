package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardiocare/cardiocare/internal/platform/mongodb"
)

type userDoc struct {
	ID               string    `bson:"_id"`
	UIN              string    `bson:"uin"`
	Email            string    `bson:"email"`
	PasswordHash     string    `bson:"password_hash"`
	FirstName        string    `bson:"first_name"`
	LastName         string    `bson:"last_name"`
	Role             string    `bson:"role"`
	DoctorApproved   bool      `bson:"doctor_approved"`
	AssignedDoctorID *string   `bson:"assigned_doctor_id"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toUserDoc(u *User) userDoc {
	d := userDoc{
		ID:             u.ID.String(),
		UIN:            u.UIN,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		DoctorApproved: u.DoctorApproved,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
	if u.AssignedDoctorID != nil {
		s := u.AssignedDoctorID.String()
		d.AssignedDoctorID = &s
	}
	return d
}

func (d userDoc) toUser() (*User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("user doc id %q: %w", d.ID, err)
	}
	u := &User{
		ID:             id,
		UIN:            d.UIN,
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Role:           d.Role,
		DoctorApproved: d.DoctorApproved,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.AssignedDoctorID != nil {
		doc, err := uuid.Parse(*d.AssignedDoctorID)
		if err != nil {
			return nil, fmt.Errorf("user doc assigned doctor %q: %w", *d.AssignedDoctorID, err)
		}
		u.AssignedDoctorID = &doc
	}
	return u, nil
}

type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type userRepoMongo struct {
	db   *mongo.Database
	coll *mongo.Collection
	tx   transactor
	now  func() time.Time
}

func NewUserRepoMongo(database *mongo.Database) Repository {
	return &userRepoMongo{
		db:   database,
		coll: database.Collection(mongodb.UsersCollection),
		tx:   mongodb.NewTxManager(database.Client()),
		now:  time.Now,
	}
}

func (r *userRepoMongo) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := r.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	if _, err := r.coll.InsertOne(ctx, toUserDoc(u)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "uin") {
				return ErrUINTaken
			}
			return ErrEmailTaken
		}
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *userRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *userRepoMongo) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *userRepoMongo) GetByUIN(ctx context.Context, uin string) (*User, error) {
	return r.findOne(ctx, bson.M{"uin": uin})
}

func (r *userRepoMongo) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var d userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user get: %w", err)
	}
	return d.toUser()
}

func (r *userRepoMongo) UpdateProfile(ctx context.Context, u *User) error {
	u.UpdatedAt = r.now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": u.ID.String()}, bson.M{"$set": bson.M{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"email":      u.Email,
		"updated_at": u.UpdatedAt,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("user update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAssignedDoctor has no foreign key to lean on; callers verify the
// doctor exists.
func (r *userRepoMongo) SetAssignedDoctor(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error {
	var value interface{}
	if doctorID != nil {
		value = doctorID.String()
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": patientID.String(), "role": "patient"},
		bson.M{"$set": bson.M{"assigned_doctor_id": value, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("user set assigned doctor: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoMongo) SetDoctorApproved(ctx context.Context, doctorID uuid.UUID, approved bool) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": doctorID.String(), "role": "doctor"},
		bson.M{"$set": bson.M{"doctor_approved": approved, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("user set doctor approved: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes the user and everything that references it in one
// transaction, mirroring the Postgres foreign keys: connection requests,
// predictions under the user's UIN and chat messages are deleted, while
// patient assignments and prediction reviewers pointing at the user are
// cleared.
func (r *userRepoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var doc userDoc
		err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": id.String()}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("user delete: %w", err)
		}
		return r.deleteDependents(ctx, id.String(), doc.UIN)
	})
}

func (r *userRepoMongo) deleteDependents(ctx context.Context, key, uin string) error {
	if _, err := r.coll.UpdateMany(ctx,
		bson.M{"assigned_doctor_id": key},
		bson.M{"$set": bson.M{"assigned_doctor_id": nil}},
	); err != nil {
		return fmt.Errorf("user delete clear assignments: %w", err)
	}

	if _, err := r.db.Collection(mongodb.ConnectionsCollection).DeleteMany(ctx,
		bson.M{"$or": bson.A{bson.M{"doctor_id": key}, bson.M{"patient_id": key}}},
	); err != nil {
		return fmt.Errorf("user delete connection requests: %w", err)
	}

	predictions := r.db.Collection(mongodb.PredictionsCollection)
	if uin != "" {
		if _, err := predictions.DeleteMany(ctx, bson.M{"uin": uin}); err != nil {
			return fmt.Errorf("user delete predictions: %w", err)
		}
	}
	if _, err := predictions.UpdateMany(ctx,
		bson.M{"reviewed_by": key},
		bson.M{"$unset": bson.M{"reviewed_by": ""}},
	); err != nil {
		return fmt.Errorf("user delete clear reviewer: %w", err)
	}

	if _, err := r.db.Collection(mongodb.ChatCollection).DeleteMany(ctx,
		bson.M{"$or": bson.A{bson.M{"sender_id": key}, bson.M{"receiver_id": key}}},
	); err != nil {
		return fmt.Errorf("user delete chat messages: %w", err)
	}
	return nil
}

func (r *userRepoMongo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	filter := bson.M{}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.Approved != nil {
		filter["doctor_approved"] = *f.Approved
	}
	if f.AssignedDoctorID != nil {
		filter["assigned_doctor_id"] = f.AssignedDoctorID.String()
	}
	if f.Unassigned {
		filter["assigned_doctor_id"] = nil
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("user count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_name", Value: 1}, {Key: "first_name", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("user list: %w", err)
	}
	defer cur.Close(ctx)

	var users []*User
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, fmt.Errorf("user decode: %w", err)
		}
		u, err := d.toUser()
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("user list: %w", err)
	}
	return users, int(total), nil
}
