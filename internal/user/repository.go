package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// accountQuery joins the account with its role, permission set and
// institution in one round trip.
const accountQuery = `
	SELECT u.id, u.email, u.password, u.name, u.is_active, u.created_at, u.updated_at,
	       r.name AS role,
	       u.institution_id, i.name AS institution_name,
	       COALESCE(array_agg(DISTINCT p.name) FILTER (WHERE p.name IS NOT NULL), '{}') AS permissions
	  FROM users u
	  LEFT JOIN roles r             ON r.id = u.role_id
	  LEFT JOIN role_permissions rp ON rp.role_id = r.id
	  LEFT JOIN permissions p       ON p.id = rp.permission_id
	  LEFT JOIN institutions i      ON i.id = u.institution_id
	 WHERE %s
	 GROUP BY u.id, r.name, i.name`

// Repository handles account data operations
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new account repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// FindByEmail finds an account by email address, case-insensitively
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	query := fmt.Sprintf(accountQuery, "LOWER(u.email) = $1")

	err := r.db.GetContext(ctx, &account, query, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Account not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	return &account, nil
}

// FindByID finds an account by ID
func (r *Repository) FindByID(ctx context.Context, id string) (*Account, error) {
	var account Account
	query := fmt.Sprintf(accountQuery, "u.id = $1")

	err := r.db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Account not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	return &account, nil
}

// IsActive reports whether the account exists and is enabled. A missing
// account is not an error.
func (r *Repository) IsActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := r.db.GetContext(ctx, &active, `SELECT is_active FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check account status: %w", err)
	}
	return active, nil
}

// RecordLoginAttempt records a login attempt for auditing
func (r *Repository) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	query := `INSERT INTO login_attempts (email, ip_address, success, attempted_at)
			  VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, email, ipAddress, success, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}
