package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/exagonbr/Portal-sub023/internal/user"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse"

// fakeStore is an in-memory AccountStore that also satisfies the gate's
// account checker
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*user.Account
	attempts []bool
	err      error
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)

	return &fakeStore{accounts: map[string]*user.Account{
		"u-teacher": {
			ID:              "u-teacher",
			Email:           "teacher@sabercon.edu.br",
			PasswordHash:    hash,
			Name:            "Professora",
			Role:            sql.NullString{String: "TEACHER", Valid: true},
			Permissions:     pq.StringArray{"courses:read"},
			InstitutionID:   sql.NullString{String: "inst-1", Valid: true},
			InstitutionName: sql.NullString{String: "Escola Sabercon", Valid: true},
			IsActive:        true,
		},
		"u-disabled": {
			ID:           "u-disabled",
			Email:        "disabled@sabercon.edu.br",
			PasswordHash: hash,
			Name:         "Desativado",
			IsActive:     false,
		},
	}}
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (*user.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*user.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) IsActive(ctx context.Context, id string) (bool, error) {
	a, err := f.FindByID(ctx, id)
	if err != nil || a == nil {
		return false, err
	}
	return a.IsActive, nil
}

func (f *fakeStore) RecordLoginAttempt(_ context.Context, _, _ string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, success)
	return nil
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStore) update(id string, fn func(a *user.Account)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.accounts[id])
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	access, err := token.NewKeyring(token.Key{ID: "a1", Secret: []byte("auth-test-access-secret-32-bytes-long")})
	require.NoError(t, err)
	refresh, err := token.NewKeyring(token.Key{ID: "r1", Secret: []byte("auth-test-refresh-secret-32-bytes-long")})
	require.NoError(t, err)

	codec, err := token.NewCodec(token.Options{
		AccessKeys:  access,
		RefreshKeys: refresh,
		AccessTTL:   time.Hour,
		RefreshTTL:  7 * 24 * time.Hour,
		Issuer:      "portal-auth",
	})
	require.NoError(t, err)
	return codec
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}
