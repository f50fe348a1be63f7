package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// failScript counts a failure and converts the counter into a lockout once it
// reaches the limit. Returns the attempts left, or -1 when locked out.
//
// KEYS[1] attempt counter, KEYS[2] lockout flag
// ARGV[1] window ms, ARGV[2] max attempts, ARGV[3] lockout ms
var failScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local max = tonumber(ARGV[2])
if n >= max then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1])
	return -1
end
return max - n
`)

// Decision is the outcome of a login attempt check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter throttles failed logins per email and client address using a Redis
// counter and a lockout flag. The window starts at the first failure.
type Limiter struct {
	client          *redis.Client
	window          time.Duration
	maxAttempts     int
	lockoutDuration time.Duration
}

// NewLimiter creates a new rate limiter
func NewLimiter(client *redis.Client, window time.Duration, maxAttempts int, lockoutDuration time.Duration) *Limiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Limiter{
		client:          client,
		window:          window,
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
	}
}

func subject(email, ipAddress string) string {
	return ipAddress + ":" + strings.ToLower(strings.TrimSpace(email))
}

func attemptKey(email, ipAddress string) string {
	return "ratelimit:login:" + subject(email, ipAddress)
}

func lockoutKey(email, ipAddress string) string {
	return "ratelimit:lockout:" + subject(email, ipAddress)
}

// Check reports whether a login attempt may proceed
func (l *Limiter) Check(ctx context.Context, email, ipAddress string) (Decision, error) {
	pipe := l.client.Pipeline()
	ttl := pipe.PTTL(ctx, lockoutKey(email, ipAddress))
	count := pipe.Get(ctx, attemptKey(email, ipAddress))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("failed to read login attempts: %w", err)
	}

	if d := ttl.Val(); d > 0 {
		return Decision{RetryAfter: d}, nil
	}

	n, err := count.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("failed to read attempt count: %w", err)
	}
	return Decision{Allowed: true, Remaining: l.maxAttempts - n}, nil
}

// Fail records a failed attempt and reports whether the caller is now locked out
func (l *Limiter) Fail(ctx context.Context, email, ipAddress string) (Decision, error) {
	left, err := failScript.Run(ctx, l.client,
		[]string{attemptKey(email, ipAddress), lockoutKey(email, ipAddress)},
		l.window.Milliseconds(), l.maxAttempts, l.lockoutDuration.Milliseconds(),
	).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	if left < 0 {
		return Decision{RetryAfter: l.lockoutDuration}, nil
	}
	return Decision{Allowed: true, Remaining: left}, nil
}

// Succeed clears the failure counter after a successful login
func (l *Limiter) Succeed(ctx context.Context, email, ipAddress string) error {
	if err := l.client.Del(ctx, attemptKey(email, ipAddress)).Err(); err != nil {
		return fmt.Errorf("failed to clear attempt counter: %w", err)
	}
	return nil
}

// Clear lifts a lockout and resets the counter
func (l *Limiter) Clear(ctx context.Context, email, ipAddress string) error {
	if err := l.client.Del(ctx, lockoutKey(email, ipAddress), attemptKey(email, ipAddress)).Err(); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	return nil
}
