package gate

import (
	"errors"
	"fmt"

	"github.com/exagonbr/Portal-sub023/internal/token"
	apperrors "github.com/exagonbr/Portal-sub023/pkg/errors"
)

// Reason is the machine-readable cause of a rejected request
type Reason string

const (
	ReasonNoToken          Reason = "NoToken"
	ReasonMalformedToken   Reason = "MalformedToken"
	ReasonInvalidToken     Reason = "InvalidToken"
	ReasonAccountNotFound  Reason = "AccountNotFound"
	ReasonTemporaryFailure Reason = "TemporaryFailure"
)

// Rejection is returned by the gate for every request it refuses
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("rejected: %s", r.Reason)
	}
	return fmt.Sprintf("rejected: %s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason from err
func ReasonOf(err error) (Reason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// AppError maps a gate error onto the HTTP error surface. Only
// TemporaryFailure is a server error; everything else asks the caller to
// authenticate again. An invalid token that expired or failed its signature
// check keeps that more specific code.
func AppError(err error) *apperrors.AppError {
	reason, ok := ReasonOf(err)
	if !ok {
		return apperrors.ErrInternal
	}
	switch reason {
	case ReasonNoToken:
		return apperrors.ErrNoToken
	case ReasonMalformedToken:
		return apperrors.ErrMalformedToken
	case ReasonAccountNotFound:
		return apperrors.ErrAccountNotFound
	case ReasonTemporaryFailure:
		return apperrors.ErrTemporaryFailure
	}

	switch {
	case errors.Is(err, token.ErrExpired):
		return apperrors.ErrTokenExpired
	case errors.Is(err, token.ErrSignatureInvalid):
		return apperrors.ErrSignatureInvalid
	default:
		return apperrors.ErrInvalidToken
	}
}
