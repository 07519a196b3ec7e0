package repository

import (
	"context"

	"github.com/pesio-ai/be-docflow/internal/database"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

// UserRepository is the Postgres-backed user directory.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Put inserts or replaces a user.
func (r *UserRepository) Put(ctx context.Context, u User) error {
	query := `
		INSERT INTO users (id, username, email, role, department, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET username   = EXCLUDED.username,
		    email      = EXCLUDED.email,
		    role       = EXCLUDED.role,
		    department = EXCLUDED.department,
		    is_active  = EXCLUDED.is_active
	`

	_, err := r.db.Exec(ctx, query, u.ID, u.Username, u.Email, string(u.Role), departmentArg(u.Department), u.IsActive)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert user")
	}
	return nil
}

// FindApprovers returns the approvers of a department.
func (r *UserRepository) FindApprovers(ctx context.Context, dept Department) ([]Approver, error) {
	query := `
		SELECT id, email, is_active
		FROM users
		WHERE role = 'approver' AND department = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, string(dept))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find approvers")
	}
	defer rows.Close()

	var out []Approver
	for rows.Next() {
		var a Approver
		if err := rows.Scan(&a.ID, &a.Email, &a.IsActive); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approver")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsActive reports whether the user exists and is active.
func (r *UserRepository) IsActive(ctx context.Context, userID string) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, userID).Scan(&active)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check user")
	}
	return active, nil
}
