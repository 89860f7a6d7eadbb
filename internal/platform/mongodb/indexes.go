package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexModels returns the indexes each collection needs. The two partial
// unique indexes on connection_requests allow at most one open request per
// direction for a doctor/patient pair. They share a key pattern and differ
// only in partialFilterExpression, which servers before 5.0 reject.
func IndexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uq_users_email")},
			{Keys: bson.D{{Key: "uin", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uq_users_uin")},
			{Keys: bson.D{{Key: "role", Value: 1}}, Options: options.Index().SetName("idx_users_role")},
			{Keys: bson.D{{Key: "assigned_doctor_id", Value: 1}}, Options: options.Index().SetName("idx_users_assigned_doctor")},
		},
		ConnectionsCollection: {
			{
				Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "patient_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("uq_connection_pending_client").
					SetPartialFilterExpression(bson.M{"status": "pending_client_approval"}),
			},
			{
				Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "patient_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("uq_connection_pending_doctor").
					SetPartialFilterExpression(bson.M{"status": "pending_doctor_approval"}),
			},
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "status", Value: 1}}, Options: options.Index().SetName("idx_connection_patient_status")},
			{Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "status", Value: 1}}, Options: options.Index().SetName("idx_connection_doctor_status")},
		},
		PredictionsCollection: {
			{Keys: bson.D{{Key: "uin", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("idx_predictions_uin_created")},
		},
		ChatCollection: {
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_chat_pair_created")},
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "read", Value: 1}}, Options: options.Index().SetName("idx_chat_receiver_unread")},
			{Keys: bson.D{{Key: "attachment.id", Value: 1}}, Options: options.Index().SetSparse(true).SetName("idx_chat_attachment")},
		},
	}
}

// EnsureIndexes creates every index returned by IndexModels. It is
// idempotent; existing indexes with the same definition are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range IndexModels() {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// MinServerMajor is the oldest MongoDB major version the indexes and
// transactions above work on.
const MinServerMajor = 5

// ErrUnsupportedServer is returned by CheckServerVersion for servers older
// than MinServerMajor.
var ErrUnsupportedServer = errors.New("mongodb server too old")

// CheckServerVersion asks the server for its build info and fails with
// ErrUnsupportedServer when it predates MinServerMajor.
func CheckServerVersion(ctx context.Context, db *mongo.Database) error {
	var info struct {
		Version      string  `bson:"version"`
		VersionArray []int32 `bson:"versionArray"`
	}
	if err := db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		return fmt.Errorf("mongo build info: %w", err)
	}
	if len(info.VersionArray) == 0 {
		return fmt.Errorf("mongo build info: missing versionArray")
	}
	if info.VersionArray[0] < MinServerMajor {
		return fmt.Errorf("%w: %s, need %d.0 or later", ErrUnsupportedServer, info.Version, MinServerMajor)
	}
	return nil
}
