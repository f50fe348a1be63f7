package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRateLimited         = errors.New("too many failed attempts")

	// ErrTemporaryFailure wraps account store and revocation store outages
	ErrTemporaryFailure = errors.New("temporary failure")
)
