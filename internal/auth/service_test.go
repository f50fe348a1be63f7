package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/exagonbr/Portal-sub023/internal/ratelimit"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/exagonbr/Portal-sub023/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service *Service
	store   *fakeStore
	codec   *token.Codec
	redis   *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr, client := newTestRedis(t)

	store := newFakeStore(t)
	codec := newTestCodec(t)
	limiter := ratelimit.NewLimiter(client, 15*time.Minute, 3, 30*time.Minute)
	service := NewService(store, codec, token.NewRevocations(client), limiter, nil)

	return &serviceFixture{service: service, store: store, codec: codec, redis: mr}
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.Authenticate(context.Background(), "  Teacher@Sabercon.edu.br ", testPassword, "10.0.0.1")
	require.NoError(t, err)

	claims, err := f.codec.DecodeAccess(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-teacher", claims.UserID)
	assert.Equal(t, "TEACHER", claims.Role)
	assert.Equal(t, []string{"courses:read"}, claims.Permissions)
	assert.Equal(t, "Escola Sabercon", claims.InstitutionName)
	assert.Equal(t, result.Tokens.SessionID, claims.SessionID)

	refresh, err := f.codec.DecodeRefresh(result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u-teacher", refresh.UserID)
	assert.Equal(t, claims.SessionID, refresh.SessionID)

	assert.Equal(t, "u-teacher", result.User.ID)
	assert.Equal(t, token.TokenTypeBearer, result.Tokens.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), result.Tokens.ExpiresAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), result.Tokens.RefreshExpiresAt, 5*time.Second)
	assert.Equal(t, []bool{true}, f.store.attempts)
}

func TestAuthenticate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"unknown email", "nobody@sabercon.edu.br", testPassword, ErrInvalidCredentials},
		{"wrong password", "teacher@sabercon.edu.br", "wrong-password", ErrInvalidCredentials},
		{"inactive account", "disabled@sabercon.edu.br", testPassword, ErrAccountInactive},
		{"inactive account with wrong password", "disabled@sabercon.edu.br", "wrong-password", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			_, err := f.service.Authenticate(context.Background(), tt.email, tt.password, "10.0.0.1")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, []bool{false}, f.store.attempts)
		})
	}
}

func TestAuthenticate_RateLimited(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", "wrong-password", "10.0.0.1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.2")
	assert.NoError(t, err, "lockout is per address")
}

func TestRefresh(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
	require.NoError(t, err)

	f.store.update("u-teacher", func(a *user.Account) {
		a.Permissions = append(a.Permissions, "reports:read")
	})

	result, err := f.service.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, login.Tokens.SessionID, result.SessionID)

	claims, err := f.codec.DecodeAccess(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.Tokens.SessionID, claims.SessionID)
	assert.Equal(t, []string{"courses:read", "reports:read"}, claims.Permissions, "refresh reads the live account")

	// Not rotated: the same refresh token keeps working
	_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("access token presented", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)

		_, err = f.service.Refresh(ctx, login.Tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("placeholder", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.Refresh(ctx, "undefined")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("account deactivated", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)

		f.store.update("u-teacher", func(a *user.Account) { a.IsActive = false })

		_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrAccountInactive)
	})

	t.Run("account deleted", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)

		f.store.mu.Lock()
		delete(f.store.accounts, "u-teacher")
		f.store.mu.Unlock()

		_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("session logged out", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)

		require.NoError(t, f.service.Logout(ctx, login.Tokens.SessionID, login.Tokens.RefreshExpiresAt))

		_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestStoreOutages(t *testing.T) {
	ctx := context.Background()
	outage := errors.New("dial tcp 10.0.0.5:5432: connection refused")

	t.Run("account store during login", func(t *testing.T) {
		f := newServiceFixture(t)
		f.store.fail(outage)

		_, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		assert.ErrorIs(t, err, ErrTemporaryFailure)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("account store during refresh", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)
		f.store.fail(outage)

		_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrTemporaryFailure)
	})

	t.Run("revocation store during refresh", func(t *testing.T) {
		f := newServiceFixture(t)
		login, err := f.service.Authenticate(ctx, "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
		require.NoError(t, err)
		f.redis.Close()

		_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrTemporaryFailure)
		assert.NotErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newServiceFixture(t)
	assert.NoError(t, f.service.Logout(context.Background(), "", time.Time{}))
}

func TestSessionFromRefresh(t *testing.T) {
	f := newServiceFixture(t)
	login, err := f.service.Authenticate(context.Background(), "teacher@sabercon.edu.br", testPassword, "10.0.0.1")
	require.NoError(t, err)

	id, exp, err := f.service.SessionFromRefresh(login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, login.Tokens.SessionID, id)
	assert.Equal(t, login.Tokens.RefreshExpiresAt.Unix(), exp.Unix())

	_, _, err = f.service.SessionFromRefresh(login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
