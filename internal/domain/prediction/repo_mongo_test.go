package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const predictionsNS = "cardiocare.predictions"

func predictionBSON(id uuid.UUID, uin, status string, created time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "uin", Value: uin},
		{Key: "score", Value: 0.6},
		{Key: "medical_inputs", Value: bson.D{{Key: "glucose", Value: int32(2)}}},
		{Key: "feedback", Value: ""},
		{Key: "status", Value: status},
		{Key: "created_at", Value: created},
	}
}

func TestPredictionRepoMongo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		p := &Prediction{UIN: "200000000001", Score: 0.2, Status: StatusPending}
		if err := repo.Create(context.Background(), p); err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if p.ID == uuid.Nil || p.CreatedAt.IsZero() || p.MedicalInputs == nil {
			mt.Errorf("expected defaults to be filled: %+v", p)
		}
	})

	mt.Run("get by id", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		id := uuid.New()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, predictionsNS, mtest.FirstBatch,
			predictionBSON(id, "200000000001", "pending", time.Now().UTC())))

		p, err := repo.GetByID(context.Background(), id)
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if p.ID != id || p.Status != StatusPending || p.MedicalInputs["glucose"] != int32(2) {
			mt.Errorf("unexpected prediction: %+v", p)
		}
	})

	mt.Run("get by id not found", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, predictionsNS, mtest.FirstBatch))

		if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
			mt.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("list by uin", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		now := time.Now().UTC().Truncate(time.Millisecond)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, predictionsNS, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateCursorResponse(1, predictionsNS, mtest.FirstBatch,
				predictionBSON(uuid.New(), "200000000001", "approved", now),
				predictionBSON(uuid.New(), "200000000001", "pending", now.Add(-time.Hour))),
			mtest.CreateCursorResponse(0, predictionsNS, mtest.NextBatch),
		)

		items, total, err := repo.ListByUIN(context.Background(), "200000000001", 20, 0)
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if total != 2 || len(items) != 2 || items[0].Status != StatusApproved {
			mt.Errorf("unexpected result: %d %+v", total, items)
		}
	})

	mt.Run("review already reviewed", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})

		err := repo.Review(context.Background(), uuid.New(), StatusApproved, uuid.New(), time.Now())
		if !errors.Is(err, ErrInvalidState) {
			mt.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	mt.Run("set feedback", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		if err := repo.SetFeedback(context.Background(), uuid.New(), "fine"); err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
	})

	mt.Run("count by status", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, predictionsNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "pending"}, {Key: "count", Value: int32(3)}},
			bson.D{{Key: "_id", Value: "approved"}, {Key: "count", Value: int32(1)}},
		))

		sum, err := repo.CountByStatus(context.Background(), "200000000001")
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if sum != (Summary{Pending: 3, Approved: 1}) {
			mt.Errorf("unexpected summary: %+v", sum)
		}
	})
	mt.Run("count by status for uins", func(mt *mtest.T) {
		repo := NewPredictionRepoMongo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, predictionsNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "pending"}, {Key: "count", Value: int32(5)}},
			bson.D{{Key: "_id", Value: "approved"}, {Key: "count", Value: int32(2)}},
		))

		sum, err := repo.CountByStatusForUINs(context.Background(), []string{"200000000001", "200000000002"})
		if err != nil {
			mt.Fatalf("unexpected error: %v", err)
		}
		if sum != (Summary{Pending: 5, Approved: 2}) {
			mt.Errorf("unexpected summary: %+v", sum)
		}
		ev := mt.GetStartedEvent()
		if ev == nil || ev.CommandName != "aggregate" {
			mt.Fatalf("expected an aggregate command, got %+v", ev)
		}
		in := ev.Command.Lookup("pipeline").Array().Index(0).Value().Document().Lookup("$match", "uin", "$in")
		vals, err := in.Array().Values()
		if err != nil || len(vals) != 2 {
			mt.Errorf("expected a $in filter over both uins, got %v (%v)", in, err)
		}
	})
}
