package user

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Account is a user row joined with its role, aggregated permissions and
// institution.
type Account struct {
	ID              string         `db:"id" json:"id"`
	Email           string         `db:"email" json:"email"`
	PasswordHash    string         `db:"password" json:"-"`
	Name            string         `db:"name" json:"name"`
	Role            sql.NullString `db:"role" json:"-"`
	Permissions     pq.StringArray `db:"permissions" json:"permissions"`
	InstitutionID   sql.NullString `db:"institution_id" json:"-"`
	InstitutionName sql.NullString `db:"institution_name" json:"-"`
	IsActive        bool           `db:"is_active" json:"isActive"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

// DefaultRole is used for accounts without an assigned role
const DefaultRole = "STUDENT"

// RoleName returns the role or DefaultRole
func (a *Account) RoleName() string {
	if a.Role.Valid && a.Role.String != "" {
		return a.Role.String
	}
	return DefaultRole
}

// Snapshot is the user view returned to clients at login
type Snapshot struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Permissions     []string `json:"permissions"`
	InstitutionID   string   `json:"institutionId,omitempty"`
	InstitutionName string   `json:"institutionName,omitempty"`
}

// Snapshot converts the account into its client view
func (a *Account) Snapshot() Snapshot {
	perms := []string(a.Permissions)
	if perms == nil {
		perms = []string{}
	}
	return Snapshot{
		ID:              a.ID,
		Email:           a.Email,
		Name:            a.Name,
		Role:            a.RoleName(),
		Permissions:     perms,
		InstitutionID:   a.InstitutionID.String,
		InstitutionName: a.InstitutionName.String,
	}
}
