package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations tracks logged-out sessions in Redis. A session stays revoked
// until the refresh token of that session would have expired anyway.
type Revocations struct {
	client *redis.Client
}

// NewRevocations creates a new session revocation list
func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{client: client}
}

func revocationKey(sessionID string) string {
	return fmt.Sprintf("revoked:session:%s", sessionID)
}

// Revoke marks the session revoked until the given time
func (r *Revocations) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		// Every token of the session is already expired
		return nil
	}

	if err := r.client.Set(ctx, revocationKey(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked checks if a session has been revoked
func (r *Revocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	exists, err := r.client.Exists(ctx, revocationKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return exists > 0, nil
}

// Restore removes a revocation (mainly for testing)
func (r *Revocations) Restore(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, revocationKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	return nil
}
