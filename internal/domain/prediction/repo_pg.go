package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardiocare/cardiocare/internal/platform/db"
)

type predictionRepoPG struct {
	db db.Querier
}

func NewPredictionRepo(q db.Querier) Repository {
	return &predictionRepoPG{db: q}
}

func (r *predictionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const predictionCols = `id, uin, score, medical_inputs, feedback, status, reviewed_by, reviewed_at, created_at`

func (r *predictionRepoPG) Create(ctx context.Context, p *Prediction) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.MedicalInputs == nil {
		p.MedicalInputs = map[string]any{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO predictions (id, uin, score, medical_inputs, feedback, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.UIN, p.Score, p.MedicalInputs, p.Feedback, string(p.Status),
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("prediction create: %w", err)
	}
	return nil
}

func (r *predictionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	p, err := scanPrediction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prediction get: %w", err)
	}
	return p, nil
}

func (r *predictionRepoPG) ListByUIN(ctx context.Context, uin string, limit, offset int) ([]*Prediction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM predictions WHERE uin = $1`, uin).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("prediction count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+predictionCols+` FROM predictions
		WHERE uin = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		uin, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("prediction list: %w", err)
	}
	defer rows.Close()

	var out []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("prediction scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("prediction list: %w", err)
	}
	return out, total, nil
}

func (r *predictionRepoPG) Review(ctx context.Context, id uuid.UUID, status Status, reviewer uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE predictions SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(status), reviewer, at, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("prediction review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *predictionRepoPG) SetFeedback(ctx context.Context, id uuid.UUID, feedback string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE predictions SET feedback = $2 WHERE id = $1`, id, feedback)
	if err != nil {
		return fmt.Errorf("prediction feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *predictionRepoPG) CountByStatus(ctx context.Context, uin string) (Summary, error) {
	return r.countByStatus(ctx, `SELECT status, COUNT(*) FROM predictions WHERE uin = $1 GROUP BY status`, uin)
}

func (r *predictionRepoPG) CountByStatusForUINs(ctx context.Context, uins []string) (Summary, error) {
	return r.countByStatus(ctx, `SELECT status, COUNT(*) FROM predictions WHERE uin = ANY($1) GROUP BY status`, uins)
}

func (r *predictionRepoPG) countByStatus(ctx context.Context, query string, arg any) (Summary, error) {
	var sum Summary
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return sum, fmt.Errorf("prediction summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return sum, fmt.Errorf("prediction summary scan: %w", err)
		}
		sum.add(Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("prediction summary: %w", err)
	}
	return sum, nil
}

func scanPrediction(row pgx.Row) (*Prediction, error) {
	var (
		p      Prediction
		status string
	)
	err := row.Scan(&p.ID, &p.UIN, &p.Score, &p.MedicalInputs, &p.Feedback, &status, &p.ReviewedBy, &p.ReviewedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
