package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardiocare/cardiocare/internal/platform/db"
)

type requestRepoPG struct {
	db db.Querier
}

func NewRequestRepo(q db.Querier) Repository {
	return &requestRepoPG{db: q}
}

func (r *requestRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const requestCols = `id, doctor_id, patient_id, initiator, status, requested_at, responded_at`

func (r *requestRepoPG) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO connection_requests (id, doctor_id, patient_id, initiator, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING requested_at`,
		req.ID, req.DoctorID, req.PatientID, req.Status.Track.String(), req.Status.String(),
	).Scan(&req.RequestedAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("connection create: %w", err)
	}
	return nil
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM connection_requests WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connection get: %w", err)
	}
	return req, nil
}

func (r *requestRepoPG) HasPending(ctx context.Context, doctorID, patientID uuid.UUID, track Track) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM connection_requests
			WHERE doctor_id = $1 AND patient_id = $2 AND status = $3
		)`,
		doctorID, patientID, Initial(track).String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("connection pending check: %w", err)
	}
	return exists, nil
}

func (r *requestRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE connection_requests SET status = $3, responded_at = $4
		WHERE id = $1 AND status = $2`,
		id, from.String(), to.String(), at,
	)
	if err != nil {
		return fmt.Errorf("connection update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *requestRepoPG) RejectOtherPending(ctx context.Context, patientID, keepID uuid.UUID, at time.Time) (int, error) {
	pending := Initial(DoctorInitiated)
	rejected, _ := pending.Respond(false)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE connection_requests SET status = $3, responded_at = $4
		WHERE patient_id = $1 AND id <> $2 AND status = $5`,
		patientID, keepID, rejected.String(), at, pending.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("connection supersede: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *requestRepoPG) LatestAccepted(ctx context.Context, patientID uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		SELECT `+requestCols+` FROM connection_requests
		WHERE patient_id = $1 AND status IN ($2, $3)
		ORDER BY responded_at DESC NULLS LAST, requested_at DESC
		LIMIT 1`,
		patientID, AcceptedStatuses[0].String(), AcceptedStatuses[1].String(),
	))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connection latest accepted: %w", err)
	}
	return req, nil
}

func (r *requestRepoPG) List(ctx context.Context, f Filter) ([]*Request, int, error) {
	column := "patient_id"
	if f.Party == PartyDoctor {
		column = "doctor_id"
	}
	where := " WHERE " + column + " = $1"
	args := []any{f.UserID}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			args = append(args, s.String())
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM connection_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("connection count: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM connection_requests%s ORDER BY requested_at DESC, id LIMIT $%d OFFSET $%d`,
		requestCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("connection list: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("connection scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("connection list: %w", err)
	}
	return out, total, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req               Request
		initiator, status string
	)
	if err := row.Scan(&req.ID, &req.DoctorID, &req.PatientID, &initiator, &status, &req.RequestedAt, &req.RespondedAt); err != nil {
		return nil, err
	}
	track, err := ParseTrack(initiator)
	if err != nil {
		return nil, err
	}
	if req.Status, err = ParseStatus(track, status); err != nil {
		return nil, err
	}
	return &req, nil
}
