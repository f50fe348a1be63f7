package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/gate"
	"github.com/exagonbr/Portal-sub023/internal/middleware"
	"github.com/exagonbr/Portal-sub023/internal/token"
	apperrors "github.com/exagonbr/Portal-sub023/pkg/errors"
	"github.com/exagonbr/Portal-sub023/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Cookie names written at login. The gate also reads the older names.
const (
	AccessCookieName  = "auth_token"
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/auth"
)

// CookieConfig controls the auth cookies
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// HealthCheck is a named dependency check
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler handles authentication HTTP requests
type Handler struct {
	service    *Service
	authorizer middleware.Authorizer
	cookies    CookieConfig
	checks     []HealthCheck
	logger     *zap.Logger
}

// NewHandler creates a new authentication handler
func NewHandler(service *Service, authorizer middleware.Authorizer, cookies CookieConfig, checks []HealthCheck, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:    service,
		authorizer: authorizer,
		cookies:    cookies,
		checks:     checks,
		logger:     logger,
	}
}

// RefreshRequest represents a refresh request. The token may also arrive in
// the refresh cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login handles email/password login
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "email and password are required")
		return
	}
	if err := ValidateLoginRequest(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}

	pair := result.Tokens
	h.setCookie(c, AccessCookieName, pair.AccessToken, "/", h.service.AccessTTL())
	h.setCookie(c, RefreshCookieName, pair.RefreshToken, RefreshCookiePath, h.service.RefreshTTL())

	response.Success(c, http.StatusOK, gin.H{
		"accessToken":      pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"tokenType":        pair.TokenType,
		"sessionId":        pair.SessionID,
		"expiresIn":        int(time.Until(pair.ExpiresAt).Seconds()),
		"expiresAt":        pair.ExpiresAt,
		"refreshExpiresAt": pair.RefreshExpiresAt,
		"user":             result.User,
	})
}

// Refresh mints a new access token
// POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	raw := h.refreshToken(c)
	if raw == "" {
		response.Error(c, apperrors.ErrInvalidRefreshToken)
		return
	}

	result, err := h.service.Refresh(c.Request.Context(), raw)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setCookie(c, AccessCookieName, result.AccessToken, "/", h.service.AccessTTL())

	response.Success(c, http.StatusOK, gin.H{
		"accessToken": result.AccessToken,
		"tokenType":   token.TokenTypeBearer,
		"sessionId":   result.SessionID,
		"expiresIn":   int(time.Until(result.ExpiresAt).Seconds()),
		"expiresAt":   result.ExpiresAt,
		"user":        result.User,
	})
}

// Validate reports whether the request's token is accepted
// GET /auth/validate
func (h *Handler) Validate(c *gin.Context) {
	identity, err := h.authorizer.Authorize(c.Request.Context(), c.Request)
	if err != nil {
		appErr := gate.AppError(err)
		c.JSON(appErr.Status, gin.H{
			"success": false,
			"data":    gin.H{"valid": false},
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"valid": true,
		"user":  identityView(identity),
	})
}

// Logout revokes the session and clears the auth cookies. It succeeds even
// when no usable token is presented.
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		sessionID string
		until     time.Time
	)
	if raw := h.refreshToken(c); raw != "" {
		if id, exp, err := h.service.SessionFromRefresh(raw); err == nil {
			sessionID, until = id, exp
		}
	}
	if sessionID == "" {
		if identity, err := h.authorizer.Authorize(ctx, c.Request); err == nil {
			sessionID = identity.SessionID()
		}
	}

	if err := h.service.Logout(ctx, sessionID, until); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		response.Error(c, apperrors.ErrTemporaryFailure)
		return
	}

	h.setCookie(c, AccessCookieName, "", "/", -1)
	h.setCookie(c, RefreshCookieName, "", RefreshCookiePath, -1)

	response.Success(c, http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}

// Me returns the authenticated identity
// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":      identityView(identity),
		"sessionId": identity.SessionID(),
		"expiresAt": identity.Claims.ExpiresAtTime(),
	})
}

// Health returns health status
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			results[check.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "up"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
	})
}

func (h *Handler) refreshToken(c *gin.Context) string {
	var req RefreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}
	if cookie, err := c.Cookie(RefreshCookieName); err == nil {
		return cookie
	}
	return ""
}

func (h *Handler) setCookie(c *gin.Context, name, value, path string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(name, value, maxAge, path, h.cookies.Domain, h.cookies.Secure, true)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(c, apperrors.ErrInvalidCredentials)
	case errors.Is(err, ErrAccountInactive):
		response.Error(c, apperrors.ErrAccountInactive)
	case errors.Is(err, ErrInvalidRefreshToken):
		response.Error(c, apperrors.ErrInvalidRefreshToken)
	case errors.Is(err, ErrRateLimited):
		response.Error(c, apperrors.ErrRateLimitExceeded)
	case errors.Is(err, ErrTemporaryFailure):
		h.logger.Warn("auth dependency unavailable", zap.Error(err))
		response.Error(c, apperrors.ErrTemporaryFailure)
	default:
		h.logger.Error("auth request failed", zap.Error(err))
		response.Error(c, apperrors.ErrInternal)
	}
}

func identityView(identity *gate.Identity) gin.H {
	claims := identity.Claims
	return gin.H{
		"id":              claims.UserID,
		"email":           claims.Email,
		"name":            claims.Name,
		"role":            claims.Role,
		"permissions":     claims.Permissions,
		"institutionId":   claims.InstitutionID,
		"institutionName": claims.InstitutionName,
	}
}
