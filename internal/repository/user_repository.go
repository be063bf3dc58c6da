package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/caregiver-booking/internal/model"
)

// UserRepo implements Directory over the users table.  Accounts are created
// and maintained by the identity service; this repository only reads them.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	var role string
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,role,is_active,created_at FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	u.Role = model.Role(role)
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	var role string
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,role,is_active,created_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	u.Role = model.Role(role)
	return u, err
}

// CaregiverExists reports whether id belongs to an active caregiver.
func (r *UserRepo) CaregiverExists(ctx context.Context, id uint64) (bool, error) {
	u, err := r.GetByID(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsActive && u.Role == model.RoleCaregiver, nil
}

// ParentIDByEmail resolves the parent named in payment metadata.
func (r *UserRepo) ParentIDByEmail(ctx context.Context, email string) (uint64, error) {
	u, err := r.GetByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if !u.IsActive || u.Role != model.RoleParent {
		return 0, ErrNotFound
	}
	return u.ID, nil
}
