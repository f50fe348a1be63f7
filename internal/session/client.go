package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/user"
	"go.uber.org/zap"
)

// APIError is an error envelope returned by the gateway
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the gateway and keeps the Store in sync with the tokens it
// receives.
type Client struct {
	base      *url.URL
	http      *http.Client
	store     *Store
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client, typically one sharing the cookie
// backend's jar
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRefreshThreshold sets how early access tokens are renewed
func WithRefreshThreshold(d time.Duration) ClientOption {
	return func(c *Client) { c.threshold = d }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway client
func NewClient(gatewayURL string, store *Store, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(gatewayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}

	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 15 * time.Second},
		store:     store,
		threshold: DefaultRefreshThreshold,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type loginPayload struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken"`
	SessionID        string        `json:"sessionId"`
	ExpiresIn        int           `json:"expiresIn"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	User             user.Snapshot `json:"user"`
}

// Login authenticates and persists the new session
func (c *Client) Login(ctx context.Context, email, password string) (*Record, error) {
	var payload loginPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", body, &payload); err != nil {
		return nil, err
	}

	rec := &Record{
		AccessToken:      payload.AccessToken,
		RefreshToken:     payload.RefreshToken,
		User:             &payload.User,
		SessionID:        payload.SessionID,
		ExpiresAt:        c.expiry(payload.ExpiresAt, payload.ExpiresIn),
		RefreshExpiresAt: payload.RefreshExpiresAt,
		SavedAt:          c.now(),
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Refresh renews the access token of the stored session
func (c *Client) Refresh(ctx context.Context) (*Record, error) {
	rec, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, rec)
}

func (c *Client) refresh(ctx context.Context, rec *Record) (*Record, error) {
	if rec.RefreshExpired(c.now()) {
		return nil, ErrSessionExpired
	}

	var payload loginPayload
	body := map[string]string{"refreshToken": rec.RefreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", "", body, &payload); err != nil {
		return nil, err
	}

	rec.AccessToken = payload.AccessToken
	rec.ExpiresAt = c.expiry(payload.ExpiresAt, payload.ExpiresIn)
	if payload.SessionID != "" {
		rec.SessionID = payload.SessionID
	}
	if payload.User.ID != "" {
		u := payload.User
		rec.User = &u
	}
	rec.SavedAt = c.now()

	if err := c.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	c.logger.Debug("access token refreshed", zap.Time("expires_at", rec.ExpiresAt))
	return rec, nil
}

// EnsureFresh returns the stored session, renewing the access token when it
// is within the refresh threshold of expiry. A session whose refresh token
// has expired is cleared.
func (c *Client) EnsureFresh(ctx context.Context) (*Record, error) {
	rec, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if rec.RefreshExpired(now) {
		if rec.AccessExpired(now) {
			_ = c.store.Clear(ctx)
			return nil, ErrSessionExpired
		}
		// Cannot renew; use the access token until it runs out
		return rec, nil
	}
	if !rec.NeedsRefresh(now, c.threshold) {
		return rec, nil
	}
	return c.refresh(ctx, rec)
}

// Me fetches the identity the gateway sees for the stored session
func (c *Client) Me(ctx context.Context) (*user.Snapshot, error) {
	rec, err := c.EnsureFresh(ctx)
	if err != nil {
		return nil, err
	}

	var payload struct {
		User user.Snapshot `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/auth/me", rec.AccessToken, nil, &payload); err != nil {
		return nil, err
	}
	return &payload.User, nil
}

// Logout revokes the session on the gateway and clears every local copy.
// Local state is cleared even when the gateway cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	rec, err := c.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		return c.store.Clear(ctx)
	}
	if err != nil {
		return err
	}

	var body interface{}
	if rec.RefreshToken != "" {
		body = map[string]string{"refreshToken": rec.RefreshToken}
	}
	callErr := c.call(ctx, http.MethodPost, "/auth/logout", rec.AccessToken, body, nil)
	if callErr != nil {
		c.logger.Warn("gateway logout failed", zap.Error(callErr))
	}

	return errors.Join(callErr, c.store.Clear(ctx))
}

func (c *Client) expiry(at time.Time, expiresIn int) time.Time {
	if !at.IsZero() {
		return at
	}
	return c.now().Add(time.Duration(expiresIn) * time.Second)
}

func (c *Client) call(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
