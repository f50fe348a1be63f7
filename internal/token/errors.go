package token

import "errors"

var (
	ErrSignatureInvalid      = errors.New("token signature invalid")
	ErrExpired               = errors.New("token expired")
	ErrMalformed             = errors.New("token malformed")
	ErrWrongKind             = errors.New("token kind mismatch")
	ErrNotBase64             = errors.New("legacy token is not base64")
	ErrNotJSON               = errors.New("legacy token is not a JSON object")
	ErrMissingRequiredFields = errors.New("legacy token missing required fields")
	ErrInvalidLifetime       = errors.New("expiry must be after issued-at")
)
