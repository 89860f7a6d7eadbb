package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardiocare/cardiocare/internal/platform/db"
)

type userRepoPG struct {
	db db.Querier
}

func NewUserRepo(q db.Querier) Repository {
	return &userRepoPG{db: q}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.db)
}

const userCols = `id, uin, email, password_hash, first_name, last_name, role,
	doctor_approved, assigned_doctor_id, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, uin, email, password_hash, first_name, last_name, role, doctor_approved, assigned_doctor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		u.ID, u.UIN, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.DoctorApproved, u.AssignedDoctorID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapWriteErr("user create", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
}

func (r *userRepoPG) GetByUIN(ctx context.Context, uin string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE uin = $1`, uin)
}

func (r *userRepoPG) getOne(ctx context.Context, query string, arg any) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user get: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, email = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FirstName, u.LastName, u.Email,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrUserNotFound
		}
		return mapWriteErr("user update", err)
	}
	return nil
}

func (r *userRepoPG) SetAssignedDoctor(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET assigned_doctor_id = $2, updated_at = NOW()
		WHERE id = $1 AND role = 'patient'`,
		patientID, doctorID,
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("user set assigned doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) SetDoctorApproved(ctx context.Context, doctorID uuid.UUID, approved bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET doctor_approved = $2, updated_at = NOW()
		WHERE id = $1 AND role = 'doctor'`,
		doctorID, approved,
	)
	if err != nil {
		return fmt.Errorf("user set doctor approved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("user delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	where, args := listWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("user count: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d`,
		userCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("user list: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("user scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("user list: %w", err)
	}
	return users, total, nil
}

func listWhere(f ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Role != "" {
		args = append(args, f.Role)
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Approved != nil {
		args = append(args, *f.Approved)
		clauses = append(clauses, fmt.Sprintf("doctor_approved = $%d", len(args)))
	}
	if f.AssignedDoctorID != nil {
		args = append(args, *f.AssignedDoctorID)
		clauses = append(clauses, fmt.Sprintf("assigned_doctor_id = $%d", len(args)))
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_doctor_id IS NULL")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.UIN, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.DoctorApproved, &u.AssignedDoctorID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func mapWriteErr(op string, err error) error {
	if constraint, ok := db.UniqueViolation(err); ok {
		if strings.Contains(constraint, "uin") {
			return ErrUINTaken
		}
		return ErrEmailTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
