package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/exagonbr/Portal-sub023/internal/credential"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	minPasswordLength = 3
	// bcrypt only looks at the first 72 bytes
	maxPasswordLength = 72
	maxEmailLength    = 254
)

// FieldError is a validation failure on one request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldErrors collects every failing field of a request
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	messages := make([]string, len(e))
	for i, fe := range e {
		messages[i] = fe.Error()
	}
	return strings.Join(messages, "; ")
}

func (e FieldErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidateLoginRequest validates a login request
func ValidateLoginRequest(req *LoginRequest) error {
	var errs FieldErrors

	switch {
	case strings.TrimSpace(req.Email) == "":
		errs = append(errs, FieldError{Field: "email", Message: "Email is required"})
	case !IsValidEmail(req.Email):
		errs = append(errs, FieldError{Field: "email", Message: "Email format is invalid"})
	}

	switch {
	case req.Password == "":
		errs = append(errs, FieldError{Field: "password", Message: "Password is required"})
	case len(req.Password) < minPasswordLength:
		errs = append(errs, FieldError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLength)})
	case len(req.Password) > maxPasswordLength:
		errs = append(errs, FieldError{Field: "password", Message: fmt.Sprintf("Password must be at most %d bytes", maxPasswordLength)})
	}

	return errs.orNil()
}

// ValidateRefreshToken applies the credential filters to a refresh token so
// serialization artifacts like "null" never reach the decoder
func ValidateRefreshToken(raw string) error {
	if raw == "" {
		return FieldErrors{{Field: "refreshToken", Message: "Refresh token is required"}}
	}
	if err := credential.Check(raw); err != nil {
		return FieldErrors{{Field: "refreshToken", Message: "Refresh token is malformed"}}
	}
	return nil
}

// IsValidEmail checks if an email address is valid
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) > maxEmailLength {
		return false
	}
	return emailRegex.MatchString(email)
}

// SanitizeEmail normalizes an email address
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
