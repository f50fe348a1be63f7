package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/user"
)

// Cookie names shared with the gateway
const (
	AccessCookie   = "auth_token"
	RefreshCookie  = "refresh_token"
	SnapshotCookie = "session_data"

	refreshCookiePath = "/auth"
)

// snapshot is the token-free part of the record kept in SnapshotCookie
type snapshot struct {
	User             *user.Snapshot `json:"user,omitempty"`
	SessionID        string         `json:"sessionId,omitempty"`
	ExpiresAt        time.Time      `json:"expiresAt"`
	RefreshExpiresAt time.Time      `json:"refreshExpiresAt"`
	SavedAt          time.Time      `json:"savedAt"`
}

// CookieBackend stores the session in an http.CookieJar bound to the gateway
// URL, using the same cookies the gateway sets: the access cookie lives until
// access expiry, the refresh and snapshot cookies until refresh expiry.
type CookieBackend struct {
	jar  http.CookieJar
	base *url.URL
}

// NewCookieBackend creates a cookie backend. Share jar with the http.Client
// talking to the gateway so cookies the gateway sets land in the same place.
func NewCookieBackend(jar http.CookieJar, gatewayURL string) (*CookieBackend, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", gatewayURL)
	}
	return &CookieBackend{jar: jar, base: u}, nil
}

func (b *CookieBackend) Name() string { return "cookie" }

func (b *CookieBackend) rootURL() *url.URL {
	return b.base.ResolveReference(&url.URL{Path: "/"})
}

func (b *CookieBackend) refreshURL() *url.URL {
	return b.base.ResolveReference(&url.URL{Path: refreshCookiePath + "/"})
}

func (b *CookieBackend) Save(_ context.Context, rec *Record) error {
	data, err := json.Marshal(snapshot{
		User:             rec.User,
		SessionID:        rec.SessionID,
		ExpiresAt:        rec.ExpiresAt,
		RefreshExpiresAt: rec.RefreshExpiresAt,
		SavedAt:          rec.SavedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	root := []*http.Cookie{
		{Name: SnapshotCookie, Value: base64.RawURLEncoding.EncodeToString(data), Path: "/", Expires: rec.RefreshExpiresAt},
	}
	if rec.AccessToken != "" {
		root = append(root, &http.Cookie{Name: AccessCookie, Value: rec.AccessToken, Path: "/", Expires: rec.ExpiresAt, HttpOnly: true})
	}
	b.jar.SetCookies(b.rootURL(), root)

	if rec.RefreshToken != "" {
		b.jar.SetCookies(b.refreshURL(), []*http.Cookie{
			{Name: RefreshCookie, Value: rec.RefreshToken, Path: refreshCookiePath, Expires: rec.RefreshExpiresAt, HttpOnly: true},
		})
	}
	return nil
}

func (b *CookieBackend) Load(_ context.Context) (*Record, error) {
	rec := &Record{}
	found := false

	for _, c := range b.jar.Cookies(b.rootURL()) {
		switch c.Name {
		case AccessCookie:
			rec.AccessToken, found = c.Value, true
		case SnapshotCookie:
			var s snapshot
			data, err := base64.RawURLEncoding.DecodeString(c.Value)
			if err != nil || json.Unmarshal(data, &s) != nil {
				// A corrupt snapshot is treated as absent; the tokens may still be usable
				continue
			}
			rec.User, rec.SessionID = s.User, s.SessionID
			rec.ExpiresAt, rec.RefreshExpiresAt, rec.SavedAt = s.ExpiresAt, s.RefreshExpiresAt, s.SavedAt
			found = true
		}
	}
	for _, c := range b.jar.Cookies(b.refreshURL()) {
		if c.Name == RefreshCookie {
			rec.RefreshToken, found = c.Value, true
		}
	}

	if !found {
		return nil, nil
	}
	return rec, nil
}

func (b *CookieBackend) Clear(_ context.Context) error {
	expired := func(name, path string) *http.Cookie {
		return &http.Cookie{Name: name, Value: "", Path: path, MaxAge: -1}
	}
	b.jar.SetCookies(b.rootURL(), []*http.Cookie{expired(AccessCookie, "/"), expired(SnapshotCookie, "/")})
	b.jar.SetCookies(b.refreshURL(), []*http.Cookie{expired(RefreshCookie, refreshCookiePath)})
	return nil
}
