// Package cache memoizes token verification outcomes for a short TTL so that
// repeated requests carrying the same token skip signature verification and
// the account lookup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/metrics"
	"github.com/exagonbr/Portal-sub023/internal/token"
	"go.uber.org/zap"
)

const (
	// KeyLength bounds how much of a raw token is retained as the cache key
	KeyLength = 50

	// keyDigestBytes of the token digest are appended to the prefix
	keyDigestBytes = 8

	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultMaxEntries    = 50000
)

// Entry is a memoized verification outcome. Claims are shared between
// requests and must be treated as read-only.
type Entry struct {
	Valid  bool
	Claims *token.AccessClaims

	// Err is the cause of a negative outcome
	Err error

	// Fingerprint identifies the full token; lookups must compare it since
	// the key digest is truncated.
	Fingerprint [sha256.Size]byte
	StoredAt    time.Time
}

// Options configures a Cache
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxEntries    int
	Now           func() time.Time
	Logger        *zap.Logger
}

// Cache is a TTL-bounded verification cache safe for concurrent use
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	ttl           time.Duration
	sweepInterval time.Duration
	maxEntries    int
	now           func() time.Time
	logger        *zap.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new verification cache. Call Start to run the periodic sweep.
func New(opts Options) *Cache {
	c := &Cache{
		entries:       make(map[string]Entry),
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		maxEntries:    opts.MaxEntries,
		now:           opts.Now,
		logger:        opts.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Key derives the cache key from a raw token: at most KeyLength leading
// characters plus a short digest of the whole token. Signed tokens under one
// key id share an encoded header longer than KeyLength, so the prefix alone
// would put every user in the same slot.
func Key(raw string) string {
	prefix := raw
	if len(prefix) > KeyLength {
		prefix = prefix[:KeyLength]
	}
	sum := Fingerprint(raw)
	return prefix + "#" + hex.EncodeToString(sum[:keyDigestBytes])
}

// Fingerprint hashes the full raw token for Entry.Fingerprint
func Fingerprint(raw string) [sha256.Size]byte {
	return sha256.Sum256([]byte(raw))
}

// TTL returns the entry lifetime
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a live entry for key. Expired entries are dropped on read so
// correctness never depends on the sweep having run.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.RecordCacheLookup("miss")
		return Entry{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		metrics.RecordCacheEvictions("expired", 1)
		metrics.RecordCacheLookup("miss")
		return Entry{}, false
	}

	if e.Valid {
		metrics.RecordCacheLookup("hit_valid")
	} else {
		metrics.RecordCacheLookup("hit_invalid")
	}
	return e, true
}

// Put stores an entry, stamping it with the current time
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e.StoredAt = now

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		removed := c.sweepLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		if removed > 0 {
			c.logger.Debug("verification cache swept at capacity", zap.Int("removed", removed))
		}
	}

	c.entries[key] = e
	metrics.SetCacheEntries(len(c.entries))
}

// Delete removes an entry
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	metrics.SetCacheEntries(len(c.entries))
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep deletes expired entries and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sweepLocked(c.now())
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	metrics.RecordCacheEvictions("expired", removed)
	metrics.SetCacheEntries(len(c.entries))
	return removed
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.StoredAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.StoredAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		metrics.RecordCacheEvictions("capacity", 1)
	}
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return now.Sub(e.StoredAt) >= c.ttl
}

// Start runs the periodic sweep until ctx is cancelled or Stop is called.
// It blocks; run it in its own goroutine.
func (c *Cache) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.cancel != nil {
		c.runMu.Unlock()
		return errors.New("verification cache sweep already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.runMu.Unlock()

	defer close(done)

	c.logger.Info("verification cache sweep started",
		zap.Duration("ttl", c.ttl),
		zap.Duration("interval", c.sweepInterval))

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("verification cache sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Debug("verification cache swept", zap.Int("removed", removed))
			}
		}
	}
}

// Stop cancels the sweep and waits for it to exit
func (c *Cache) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
