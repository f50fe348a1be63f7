package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is one copy of the session. Load returns (nil, nil) when the
// backend holds nothing; Clear on an empty backend is not an error.
type Backend interface {
	Name() string
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context) (*Record, error)
	Clear(ctx context.Context) error
}

// FileBackend is the durable copy, a JSON file readable only by its owner
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a file backend at path
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Name() string { return "file" }

// Save writes the record through a temp file and rename
func (b *FileBackend) Save(_ context.Context, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (b *FileBackend) Load(_ context.Context) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &rec, nil
}

func (b *FileBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryBackend is the short-lived per-process copy. It forgets the record
// once the access token expires.
type MemoryBackend struct {
	mu  sync.Mutex
	rec *Record
	now func() time.Time
}

// NewMemoryBackend creates an empty memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{now: time.Now}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Save(_ context.Context, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = rec.clone()
	return nil
}

func (b *MemoryBackend) Load(_ context.Context) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rec == nil {
		return nil, nil
	}
	if b.rec.AccessExpired(b.now()) {
		b.rec = nil
		return nil, nil
	}
	return b.rec.clone(), nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = nil
	return nil
}

// RedisBackend is a remote durable copy keyed per client, expiring with the
// refresh token.
type RedisBackend struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisBackend creates a Redis backend storing the session under
// session:client:<clientID>
func NewRedisBackend(client *redis.Client, clientID string) *RedisBackend {
	return &RedisBackend{
		client: client,
		key:    fmt.Sprintf("session:client:%s", clientID),
		now:    time.Now,
	}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Save(ctx context.Context, rec *Record) error {
	ttl := rec.RefreshExpiresAt.Sub(b.now())
	if ttl <= 0 {
		return b.Clear(ctx)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := b.client.Set(ctx, b.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context) (*Record, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &rec, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
