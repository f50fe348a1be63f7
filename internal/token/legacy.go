package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

var base64Charset = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// legacyPayload is the unsigned base64(JSON) format older web and demo clients
// still send. Identifiers were emitted as numbers by some clients.
type legacyPayload struct {
	UserID          flexibleString `json:"userId"`
	Email           string         `json:"email"`
	Name            string         `json:"name"`
	Role            string         `json:"role"`
	Permissions     []string       `json:"permissions"`
	InstitutionID   flexibleString `json:"institutionId"`
	InstitutionName string         `json:"institutionName"`
	SessionID       string         `json:"sessionId"`
	IssuedAt        *float64       `json:"iat"`
	ExpiresAt       *float64       `json:"exp"`
}

// DecodeLegacy decodes the legacy fallback encoding. Callers only route tokens
// here when they do not have the three segments of a signed token.
func DecodeLegacy(raw string, now time.Time) (*AccessClaims, error) {
	if !base64Charset.MatchString(raw) {
		return nil, ErrNotBase64
	}

	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBase64, err)
	}
	if !utf8.Valid(decoded) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrNotJSON)
	}

	trimmed := bytes.TrimSpace(decoded)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotJSON
	}
	var payload legacyPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	if payload.UserID == "" || payload.Email == "" || payload.Role == "" {
		return nil, ErrMissingRequiredFields
	}

	claims := &AccessClaims{
		UserID:          string(payload.UserID),
		Email:           payload.Email,
		Name:            payload.Name,
		Role:            payload.Role,
		Permissions:     payload.Permissions,
		InstitutionID:   string(payload.InstitutionID),
		InstitutionName: payload.InstitutionName,
		SessionID:       payload.SessionID,
		Type:            KindAccess,
		Legacy:          true,
	}
	claims.Subject = claims.UserID

	if payload.ExpiresAt != nil {
		exp := unixSeconds(*payload.ExpiresAt)
		if !exp.After(now) {
			return nil, ErrExpired
		}
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = jwt.NewNumericDate(unixSeconds(*payload.IssuedAt))
	}

	return claims, nil
}

// EncodeLegacy produces the legacy encoding. Kept for tests and for migrating
// fixtures; the gateway never issues legacy tokens.
func EncodeLegacy(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeBase64(raw string) ([]byte, error) {
	if strings.HasSuffix(raw, "=") || len(raw)%4 == 0 {
		return base64.StdEncoding.DecodeString(raw)
	}
	return base64.RawStdEncoding.DecodeString(raw)
}

func unixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// flexibleString accepts a JSON string or number
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexibleString(n.String())
	return nil
}
