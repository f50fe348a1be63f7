// Package session keeps a client's token pair and user snapshot in several
// independent backends so that losing one copy does not log the user out.
package session

import (
	"errors"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/user"
)

var (
	// ErrNoSession means no backend holds a usable session
	ErrNoSession = errors.New("no stored session")
	// ErrSessionExpired means the stored refresh token has expired
	ErrSessionExpired = errors.New("session expired")
)

// DefaultRefreshThreshold is how close to expiry an access token is renewed
const DefaultRefreshThreshold = 5 * time.Minute

// Record is the persisted client session
type Record struct {
	AccessToken      string         `json:"accessToken,omitempty"`
	RefreshToken     string         `json:"refreshToken,omitempty"`
	User             *user.Snapshot `json:"user,omitempty"`
	SessionID        string         `json:"sessionId,omitempty"`
	ExpiresAt        time.Time      `json:"expiresAt"`
	RefreshExpiresAt time.Time      `json:"refreshExpiresAt"`
	SavedAt          time.Time      `json:"savedAt"`
}

// Completeness counts the populated parts of the record
func (r *Record) Completeness() int {
	n := 0
	if r.AccessToken != "" {
		n++
	}
	if r.RefreshToken != "" {
		n++
	}
	if r.User != nil {
		n++
	}
	if r.SessionID != "" {
		n++
	}
	return n
}

// AccessExpired reports whether the access token is no longer usable
func (r *Record) AccessExpired(now time.Time) bool {
	return r.AccessToken == "" || !now.Before(r.ExpiresAt)
}

// RefreshExpired reports whether the session can no longer be renewed
func (r *Record) RefreshExpired(now time.Time) bool {
	return r.RefreshToken == "" || !now.Before(r.RefreshExpiresAt)
}

// Usable reports whether the record can still authenticate or renew
func (r *Record) Usable(now time.Time) bool {
	return !r.AccessExpired(now) || !r.RefreshExpired(now)
}

// NeedsRefresh reports whether the access token expires within threshold
func (r *Record) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return r.AccessToken == "" || !now.Add(threshold).Before(r.ExpiresAt)
}

// better reports whether r should be preferred over other: the more complete
// record wins, then the one saved last.
func (r *Record) better(other *Record) bool {
	if other == nil {
		return true
	}
	if a, b := r.Completeness(), other.Completeness(); a != b {
		return a > b
	}
	if !r.SavedAt.Equal(other.SavedAt) {
		return r.SavedAt.After(other.SavedAt)
	}
	return r.ExpiresAt.After(other.ExpiresAt)
}

func (r *Record) clone() *Record {
	cp := *r
	if r.User != nil {
		u := *r.User
		u.Permissions = append([]string(nil), r.User.Permissions...)
		cp.User = &u
	}
	return &cp
}
