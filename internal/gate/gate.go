// Package gate turns an inbound request into an authenticated identity or a
// rejection. It composes the credential extractor, the verification cache and
// the token codec, then confirms the account is still live.
package gate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/cache"
	"github.com/exagonbr/Portal-sub023/internal/credential"
	"github.com/exagonbr/Portal-sub023/internal/metrics"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"go.uber.org/zap"
)

// Source records which path produced an identity
type Source string

const (
	SourceNone   Source = "none"
	SourceCache  Source = "cache"
	SourceSigned Source = "signed"
	SourceLegacy Source = "legacy"
)

// DefaultLookupTimeout bounds the live account and revocation checks
const DefaultLookupTimeout = 2 * time.Second

// Decoder verifies raw access tokens. *token.Codec implements it.
type Decoder interface {
	DecodeAccess(raw string) (*token.AccessClaims, error)
	DecodeLegacy(raw string) (*token.AccessClaims, error)
}

// AccountChecker confirms an account still exists and is enabled
type AccountChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// RevocationChecker reports sessions ended by logout
type RevocationChecker interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Identity is the authenticated caller
type Identity struct {
	Claims *token.AccessClaims
	Source Source
}

// UserID returns the authenticated subject id
func (i *Identity) UserID() string { return i.Claims.UserID }

// SessionID returns the login session the token belongs to
func (i *Identity) SessionID() string { return i.Claims.SessionID }

// Config holds the gate's behavioural switches
type Config struct {
	LookupTimeout time.Duration

	// LegacyTokens enables the unsigned fallback decode for tokens that are
	// not three-segment signed tokens.
	LegacyTokens bool

	// DemoMode lets DemoEmails skip the live account check. Never enable in
	// production.
	DemoMode   bool
	DemoEmails []string

	Now func() time.Time
}

// Gate is the request-time authorization entry point
type Gate struct {
	extractor   *credential.Extractor
	cache       *cache.Cache
	decoder     Decoder
	accounts    AccountChecker
	revocations RevocationChecker
	logger      *zap.Logger
	now         func() time.Time

	lookupTimeout time.Duration
	legacyTokens  bool
	demoMode      bool
	demoEmails    map[string]struct{}
}

// New creates a gate. revocations may be nil.
func New(extractor *credential.Extractor, c *cache.Cache, decoder Decoder, accounts AccountChecker, revocations RevocationChecker, cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	demo := make(map[string]struct{}, len(cfg.DemoEmails))
	for _, email := range cfg.DemoEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			demo[email] = struct{}{}
		}
	}

	return &Gate{
		extractor:     extractor,
		cache:         c,
		decoder:       decoder,
		accounts:      accounts,
		revocations:   revocations,
		logger:        logger,
		now:           cfg.Now,
		lookupTimeout: cfg.LookupTimeout,
		legacyTokens:  cfg.LegacyTokens,
		demoMode:      cfg.DemoMode,
		demoEmails:    demo,
	}
}

// Authorize extracts the token from r and verifies it
func (g *Gate) Authorize(ctx context.Context, r *http.Request) (*Identity, error) {
	raw, err := g.extractor.Extract(r)
	if err != nil {
		reason := ReasonMalformedToken
		if errors.Is(err, credential.ErrNoToken) {
			reason = ReasonNoToken
		}
		rej := reject(reason, err)
		g.record(nil, rej, "")
		return nil, rej
	}
	return g.Verify(ctx, raw)
}

// Verify runs an already extracted raw token through the gate
func (g *Gate) Verify(ctx context.Context, raw string) (*Identity, error) {
	id, err := g.verify(ctx, raw)
	g.record(id, err, raw)
	return id, err
}

func (g *Gate) verify(ctx context.Context, raw string) (*Identity, error) {
	if err := credential.Check(raw); err != nil {
		return nil, reject(ReasonMalformedToken, err)
	}

	key, fp := cache.Key(raw), cache.Fingerprint(raw)
	if entry, ok := g.cache.Get(key); ok && entry.Fingerprint == fp {
		if !entry.Valid {
			return nil, reject(ReasonInvalidToken, entry.Err)
		}
		// the cache TTL never extends a token past its own expiry
		if exp := entry.Claims.ExpiresAtTime(); !exp.IsZero() && !exp.After(g.now()) {
			g.cache.Put(key, cache.Entry{Valid: false, Err: token.ErrExpired, Fingerprint: fp})
			return nil, reject(ReasonInvalidToken, token.ErrExpired)
		}
		return &Identity{Claims: entry.Claims, Source: SourceCache}, nil
	}

	claims, source, err := g.decode(raw)
	if err != nil {
		g.cache.Put(key, cache.Entry{Valid: false, Err: err, Fingerprint: fp})
		return nil, reject(ReasonInvalidToken, err)
	}

	if err := g.confirmLive(ctx, claims); err != nil {
		var rej *Rejection
		if errors.As(err, &rej) && rej.Reason == ReasonInvalidToken {
			g.cache.Put(key, cache.Entry{Valid: false, Err: rej.Err, Fingerprint: fp})
		}
		return nil, err
	}

	g.cache.Put(key, cache.Entry{Valid: true, Claims: claims, Fingerprint: fp})
	return &Identity{Claims: claims, Source: source}, nil
}

// decode never lets a three-segment token reach the legacy path
func (g *Gate) decode(raw string) (*token.AccessClaims, Source, error) {
	if token.IsSigned(raw) {
		claims, err := g.decoder.DecodeAccess(raw)
		return claims, SourceSigned, err
	}
	if !g.legacyTokens {
		return nil, SourceLegacy, errors.New("legacy tokens are disabled")
	}
	claims, err := g.decoder.DecodeLegacy(raw)
	return claims, SourceLegacy, err
}

func (g *Gate) confirmLive(ctx context.Context, claims *token.AccessClaims) error {
	if g.isDemo(claims) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()

	active, err := g.accounts.IsActive(ctx, claims.UserID)
	if err != nil {
		return reject(ReasonTemporaryFailure, err)
	}
	if !active {
		return reject(ReasonAccountNotFound, nil)
	}

	if g.revocations == nil || claims.SessionID == "" {
		return nil
	}
	revoked, err := g.revocations.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return reject(ReasonTemporaryFailure, err)
	}
	if revoked {
		return reject(ReasonInvalidToken, errors.New("session revoked"))
	}
	return nil
}

func (g *Gate) isDemo(claims *token.AccessClaims) bool {
	if !g.demoMode {
		return false
	}
	_, ok := g.demoEmails[strings.ToLower(claims.Email)]
	return ok
}

func (g *Gate) record(id *Identity, err error, raw string) {
	if err == nil {
		metrics.RecordGateDecision("authorized", "", string(id.Source))
		g.logger.Debug("request authorized",
			zap.String("user_id", id.Claims.UserID),
			zap.String("source", string(id.Source)),
			zap.String("token_prefix", prefix(raw)))
		return
	}

	reason, _ := ReasonOf(err)
	metrics.RecordGateDecision("rejected", string(reason), string(SourceNone))
	if reason == ReasonTemporaryFailure {
		g.logger.Warn("account lookup failed", zap.Error(err), zap.String("token_prefix", prefix(raw)))
		return
	}
	g.logger.Debug("request rejected",
		zap.String("reason", string(reason)),
		zap.Error(err),
		zap.String("token_prefix", prefix(raw)))
}

func prefix(raw string) string {
	if len(raw) > 8 {
		return raw[:8]
	}
	return raw
}
