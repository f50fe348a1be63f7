// Package credential recovers the candidate raw token from an inbound request.
package credential

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

var (
	// ErrNoToken means the request carried no candidate at all
	ErrNoToken = errors.New("no token in request")
	// ErrMalformedToken means every candidate tripped a fast filter
	ErrMalformedToken = errors.New("malformed token")
)

// MinTokenLength is the shortest string ever accepted as a token
const MinTokenLength = 10

// AuthTokenHeader carries a bare token from clients that cannot set
// Authorization
const AuthTokenHeader = "X-Auth-Token"

// DefaultCookieNames are the cookies older clients store the access token in
var DefaultCookieNames = []string{"token", "auth_token", "authToken"}

// Placeholder strings produced by client-side serialization bugs
var placeholders = map[string]struct{}{
	"null":      {},
	"undefined": {},
	"true":      {},
	"false":     {},
}

// Extractor looks for a token in the Authorization header, then the
// X-Auth-Token header, then the named cookies, then a manual parse of the raw
// Cookie header.
type Extractor struct {
	cookieNames []string
}

// NewExtractor creates an extractor for the given cookie names, falling back
// to DefaultCookieNames.
func NewExtractor(cookieNames ...string) *Extractor {
	if len(cookieNames) == 0 {
		cookieNames = DefaultCookieNames
	}
	names := make([]string, len(cookieNames))
	copy(names, cookieNames)
	return &Extractor{cookieNames: names}
}

// Extract returns the first candidate passing Check. Headers win over cookies.
func (e *Extractor) Extract(r *http.Request) (string, error) {
	var candidates []string

	if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
		candidates = append(candidates, tok)
	}
	if tok := strings.TrimSpace(r.Header.Get(AuthTokenHeader)); tok != "" {
		candidates = append(candidates, tok)
	}

	for _, name := range e.cookieNames {
		if c, err := r.Cookie(name); err == nil {
			candidates = append(candidates, unescapeCookieValue(c.Value))
		}
	}

	// net/http silently drops cookie values it considers invalid
	for _, raw := range r.Header.Values("Cookie") {
		candidates = append(candidates, e.parseCookieHeader(raw)...)
	}

	if len(candidates) == 0 {
		return "", ErrNoToken
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if Check(c) == nil {
			return c, nil
		}
	}
	return "", ErrMalformedToken
}

// Check applies the cheap filters run before any decode
func Check(raw string) error {
	if _, ok := placeholders[strings.ToLower(raw)]; ok {
		return ErrMalformedToken
	}
	if len(raw) < MinTokenLength {
		return ErrMalformedToken
	}
	for _, r := range raw {
		if r > unicode.MaxASCII || unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrMalformedToken
		}
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// parseCookieHeader returns the values of the configured cookies in the order
// of e.cookieNames.
func (e *Extractor) parseCookieHeader(raw string) []string {
	found := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if _, exists := found[name]; exists {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		found[name] = unescapeCookieValue(value)
	}

	var values []string
	for _, name := range e.cookieNames {
		if v, ok := found[name]; ok {
			values = append(values, v)
		}
	}
	return values
}

// unescapeCookieValue undoes encodeURIComponent without turning '+' into a space
func unescapeCookieValue(value string) string {
	if !strings.Contains(value, "%") {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}
