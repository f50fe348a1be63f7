package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/metrics"
	"github.com/exagonbr/Portal-sub023/internal/ratelimit"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/exagonbr/Portal-sub023/internal/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccountStore is the account lookup the service depends on.
// *user.Repository implements it.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*user.Account, error)
	FindByID(ctx context.Context, id string) (*user.Account, error)
	RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error
}

// RateLimiter throttles failed logins. *ratelimit.Limiter implements it.
type RateLimiter interface {
	Check(ctx context.Context, email, ipAddress string) (ratelimit.Decision, error)
	Fail(ctx context.Context, email, ipAddress string) (ratelimit.Decision, error)
	Succeed(ctx context.Context, email, ipAddress string) error
}

// SessionRevoker ends sessions at logout. *token.Revocations implements it.
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Service issues and refreshes tokens
type Service struct {
	accounts    AccountStore
	codec       *token.Codec
	revocations SessionRevoker
	rateLimiter RateLimiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a new authentication service. revocations and
// rateLimiter may be nil.
func NewService(
	accounts AccountStore,
	codec *token.Codec,
	revocations SessionRevoker,
	rateLimiter RateLimiter,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		accounts:    accounts,
		codec:       codec,
		revocations: revocations,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResult is a freshly minted token pair with the account snapshot
type LoginResult struct {
	Tokens *token.TokenPair
	User   user.Snapshot
}

// RefreshResult carries a new access token bound to the existing session
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
	SessionID   string
	User        user.Snapshot
}

// Authenticate verifies an email and password and mints a token pair
func (s *Service) Authenticate(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	start := s.now()
	email = SanitizeEmail(email)

	if s.rateLimiter != nil {
		d, err := s.rateLimiter.Check(ctx, email, ipAddress)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !d.Allowed {
			metrics.RecordRateLimitHit()
			metrics.RecordLoginAttempt("blocked", s.now().Sub(start))
			return nil, fmt.Errorf("%w: locked out for %v", ErrRateLimited, d.RetryAfter.Round(time.Second))
		}
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: database error: %v", ErrTemporaryFailure, err)
	}
	if account == nil {
		s.recordFailure(ctx, email, ipAddress, "failure", start)
		return nil, ErrInvalidCredentials
	}

	if err := VerifyPassword(password, account.PasswordHash); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			s.logger.Error("stored password hash unusable", zap.String("user_id", account.ID), zap.Error(err))
		}
		s.recordFailure(ctx, email, ipAddress, "failure", start)
		return nil, ErrInvalidCredentials
	}

	// Checked after the password so a wrong guess cannot learn account state
	if !account.IsActive {
		s.recordFailure(ctx, email, ipAddress, "inactive", start)
		return nil, ErrAccountInactive
	}

	pair, err := s.issuePair(account, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if err := s.accounts.RecordLoginAttempt(ctx, email, ipAddress, true); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Succeed(ctx, email, ipAddress); err != nil {
			s.logger.Warn("failed to clear rate limit counter", zap.Error(err))
		}
	}
	metrics.RecordLoginAttempt("success", s.now().Sub(start))

	s.logger.Info("login succeeded",
		zap.String("user_id", account.ID),
		zap.String("session_id", pair.SessionID))

	return &LoginResult{Tokens: pair, User: account.Snapshot()}, nil
}

func (s *Service) recordFailure(ctx context.Context, email, ipAddress, status string, start time.Time) {
	if err := s.accounts.RecordLoginAttempt(ctx, email, ipAddress, false); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
	if s.rateLimiter != nil {
		d, err := s.rateLimiter.Fail(ctx, email, ipAddress)
		if err != nil {
			s.logger.Warn("failed to record failed attempt", zap.Error(err))
		} else if !d.Allowed {
			s.logger.Warn("login locked out",
				zap.String("email", email),
				zap.String("ip", ipAddress),
				zap.Duration("retry_after", d.RetryAfter))
		}
	}
	metrics.RecordLoginAttempt(status, s.now().Sub(start))
}

func (s *Service) issuePair(account *user.Account, sessionID string) (*token.TokenPair, error) {
	access, accessExp, err := s.issueAccess(account, sessionID)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := s.codec.IssueRefresh(token.RefreshClaims{
		UserID:    account.ID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &token.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sessionID,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
		TokenType:        token.TokenTypeBearer,
	}, nil
}

func (s *Service) issueAccess(account *user.Account, sessionID string) (string, time.Time, error) {
	snapshot := account.Snapshot()
	raw, exp, err := s.codec.IssueAccess(token.AccessClaims{
		UserID:          snapshot.ID,
		Email:           snapshot.Email,
		Name:            snapshot.Name,
		Role:            snapshot.Role,
		Permissions:     snapshot.Permissions,
		InstitutionID:   snapshot.InstitutionID,
		InstitutionName: snapshot.InstitutionName,
		SessionID:       sessionID,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	return raw, exp, nil
}

// Refresh mints a new access token for the refresh token's session. The
// account is re-read so role and permission changes apply immediately. The
// refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if err := ValidateRefreshToken(refreshToken); err != nil {
		metrics.RecordRefresh("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	claims, err := s.codec.DecodeRefresh(refreshToken)
	if err != nil {
		metrics.RecordRefresh("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to check session revocation: %v", ErrTemporaryFailure, err)
		}
		if revoked {
			metrics.RecordRefresh("revoked")
			return nil, fmt.Errorf("%w: session revoked", ErrInvalidRefreshToken)
		}
	}

	account, err := s.accounts.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: database error: %v", ErrTemporaryFailure, err)
	}
	if account == nil {
		metrics.RecordRefresh("invalid")
		return nil, fmt.Errorf("%w: account not found", ErrInvalidRefreshToken)
	}
	if !account.IsActive {
		metrics.RecordRefresh("inactive")
		return nil, ErrAccountInactive
	}

	access, exp, err := s.issueAccess(account, claims.SessionID)
	if err != nil {
		return nil, err
	}
	metrics.RecordRefresh("success")

	return &RefreshResult{
		AccessToken: access,
		ExpiresAt:   exp,
		SessionID:   claims.SessionID,
		User:        account.Snapshot(),
	}, nil
}

// SessionFromRefresh returns the session id and expiry of a still valid
// refresh token
func (s *Service) SessionFromRefresh(refreshToken string) (string, time.Time, error) {
	claims, err := s.codec.DecodeRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	return claims.SessionID, claims.ExpiresAt.Time, nil
}

// Logout revokes the session until its refresh token would have expired.
// A zero refreshExpiry revokes for the full refresh lifetime.
func (s *Service) Logout(ctx context.Context, sessionID string, refreshExpiry time.Time) error {
	if sessionID == "" || s.revocations == nil {
		return nil
	}
	if refreshExpiry.IsZero() {
		refreshExpiry = s.now().Add(s.codec.RefreshTTL())
	}
	if err := s.revocations.Revoke(ctx, sessionID, refreshExpiry); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.logger.Info("session revoked", zap.String("session_id", sessionID))
	return nil
}

// AccessTTL returns the access token lifetime
func (s *Service) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL returns the refresh token lifetime
func (s *Service) RefreshTTL() time.Duration { return s.codec.RefreshTTL() }
