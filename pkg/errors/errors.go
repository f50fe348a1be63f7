package errors

import "fmt"

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Error codes. Every rejection code maps to 401 except TEMPORARY_FAILURE.
const (
	ErrCodeNoToken             = "NO_TOKEN"
	ErrCodeMalformedToken      = "MALFORMED_TOKEN"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeSignatureInvalid    = "SIGNATURE_INVALID"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountInactive     = "ACCOUNT_INACTIVE"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeTemporaryFailure    = "TEMPORARY_FAILURE"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// NewAppError creates a new application error
func NewAppError(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Common errors
var (
	ErrNoToken             = NewAppError(ErrCodeNoToken, "Authentication token is required", 401)
	ErrMalformedToken      = NewAppError(ErrCodeMalformedToken, "Malformed token", 401)
	ErrInvalidToken        = NewAppError(ErrCodeInvalidToken, "Invalid token", 401)
	ErrSignatureInvalid    = NewAppError(ErrCodeSignatureInvalid, "Token signature is invalid", 401)
	ErrTokenExpired        = NewAppError(ErrCodeTokenExpired, "Token expired", 401)
	ErrAccountNotFound     = NewAppError(ErrCodeAccountNotFound, "Account not found or inactive", 401)
	ErrAccountInactive     = NewAppError(ErrCodeAccountInactive, "Account is inactive", 401)
	ErrInvalidCredentials  = NewAppError(ErrCodeInvalidCredentials, "Invalid email or password", 401)
	ErrInvalidRefreshToken = NewAppError(ErrCodeInvalidRefreshToken, "Invalid refresh token", 401)
	ErrTemporaryFailure    = NewAppError(ErrCodeTemporaryFailure, "Temporary failure, please retry", 500)
	ErrRateLimitExceeded   = NewAppError(ErrCodeRateLimitExceeded, "Too many login attempts", 429)
	ErrUnauthorized        = NewAppError(ErrCodeUnauthorized, "Unauthorized", 401)
	ErrInternal            = NewAppError(ErrCodeInternalError, "Internal server error", 500)
)
