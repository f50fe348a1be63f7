package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Options configures a Codec
type Options struct {
	AccessKeys  *Keyring
	RefreshKeys *Keyring
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Issuer      string
	Audience    string

	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Codec encodes and decodes signed tokens of both families and the legacy
// unsigned fallback encoding.
type Codec struct {
	accessKeys  *Keyring
	refreshKeys *Keyring
	accessTTL   time.Duration
	refreshTTL  time.Duration
	issuer      string
	audience    string
	now         func() time.Time
}

// NewCodec creates a new token codec
func NewCodec(opts Options) (*Codec, error) {
	if opts.AccessKeys == nil || opts.RefreshKeys == nil {
		return nil, errors.New("access and refresh keyrings are required")
	}
	if opts.AccessKeys.Shares(opts.RefreshKeys) {
		return nil, errors.New("access and refresh token families must not share a secret")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if opts.RefreshTTL <= opts.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		accessKeys:  opts.AccessKeys,
		refreshKeys: opts.RefreshKeys,
		accessTTL:   opts.AccessTTL,
		refreshTTL:  opts.RefreshTTL,
		issuer:      opts.Issuer,
		audience:    opts.Audience,
		now:         now,
	}, nil
}

// AccessTTL returns the access token lifetime
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh token lifetime
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IsSigned reports whether raw has the three dot-separated segments of a signed token
func IsSigned(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// IssueAccess signs an access token. Zero-valued registered claims are filled
// from the codec configuration; preset IssuedAt/ExpiresAt are kept.
func (c *Codec) IssueAccess(claims AccessClaims) (string, time.Time, error) {
	claims.Type = KindAccess
	c.fillRegistered(&claims.RegisteredClaims, claims.UserID, c.accessTTL)
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "", time.Time{}, ErrInvalidLifetime
	}

	signed, err := c.sign(claims, c.accessKeys.Current())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefresh signs a refresh token with the refresh family key
func (c *Codec) IssueRefresh(claims RefreshClaims) (string, time.Time, error) {
	claims.Type = KindRefresh
	c.fillRegistered(&claims.RegisteredClaims, claims.UserID, c.refreshTTL)
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "", time.Time{}, ErrInvalidLifetime
	}

	signed, err := c.sign(claims, c.refreshKeys.Current())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (c *Codec) fillRegistered(rc *jwt.RegisteredClaims, subject string, ttl time.Duration) {
	now := c.now()
	if rc.IssuedAt == nil {
		rc.IssuedAt = jwt.NewNumericDate(now)
	}
	if rc.ExpiresAt == nil {
		rc.ExpiresAt = jwt.NewNumericDate(rc.IssuedAt.Add(ttl))
	}
	if rc.Subject == "" {
		rc.Subject = subject
	}
	if rc.Issuer == "" {
		rc.Issuer = c.issuer
	}
	if len(rc.Audience) == 0 && c.audience != "" {
		rc.Audience = jwt.ClaimStrings{c.audience}
	}
	if rc.ID == "" {
		rc.ID = uuid.New().String()
	}
}

func (c *Codec) sign(claims jwt.Claims, key Key) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = key.ID
	return t.SignedString(key.Secret)
}

// DecodeAccess verifies a signed access token
func (c *Codec) DecodeAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.decodeSigned(raw, c.accessKeys, claims); err != nil {
		return nil, err
	}
	if claims.Type != KindAccess {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.Type, KindAccess)
	}
	return claims, nil
}

// DecodeRefresh verifies a signed refresh token
func (c *Codec) DecodeRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.decodeSigned(raw, c.refreshKeys, claims); err != nil {
		return nil, err
	}
	if claims.Type != KindRefresh {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.Type, KindRefresh)
	}
	return claims, nil
}

// DecodeLegacy decodes the unsigned fallback encoding against the codec clock
func (c *Codec) DecodeLegacy(raw string) (*AccessClaims, error) {
	return DecodeLegacy(raw, c.now())
}

func (c *Codec) decodeSigned(raw string, keys *Keyring, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		options = append(options, jwt.WithAudience(c.audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		secret, ok := keys.Lookup(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if !parsed.Valid {
		return ErrSignatureInvalid
	}

	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	if exp != nil && iat != nil && !exp.After(iat.Time) {
		return fmt.Errorf("%w: %v", ErrMalformed, ErrInvalidLifetime)
	}
	return nil
}

// classify maps parser failures onto the codec's error set. Signature problems
// are checked before claims, so a forged expired token reports SignatureInvalid.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
