package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two token families
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// AccessClaims represents the access token claims. JSON names match the
// payload older web clients already parse.
type AccessClaims struct {
	UserID          string   `json:"userId"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Permissions     []string `json:"permissions"`
	InstitutionID   string   `json:"institutionId,omitempty"`
	InstitutionName string   `json:"institutionName,omitempty"`
	SessionID       string   `json:"sessionId"`
	Type            Kind     `json:"type"`

	// Legacy is set when the claims came from the unsigned fallback encoding
	Legacy bool `json:"-"`

	jwt.RegisteredClaims
}

// RefreshClaims carries only what is needed to mint a new access token
type RefreshClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Type      Kind   `json:"type"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the permission is part of the snapshot
func (c *AccessClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ExpiresAtTime returns the expiry or the zero time when absent
func (c *AccessClaims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenPair represents an access and refresh token pair
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	SessionID        string    `json:"sessionId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	TokenType        string    `json:"tokenType"`
}

// TokenType constants
const (
	TokenTypeBearer = "Bearer"
)
