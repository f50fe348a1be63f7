package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestKey(t *testing.T) {
	short := "abc"
	assert.True(t, strings.HasPrefix(Key(short), short+"#"))

	long := strings.Repeat("x", 80)
	assert.Len(t, Key(long), KeyLength+1+2*keyDigestBytes)
	assert.Equal(t, Key(long), Key(long))

	a := strings.Repeat("p", KeyLength) + "-first"
	b := strings.Repeat("p", KeyLength) + "-second"
	assert.NotEqual(t, Key(a), Key(b), "tokens sharing a prefix get their own slot")
	assert.Equal(t, Key(a)[:KeyLength], Key(b)[:KeyLength])
}

func TestCache_GetPut(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, Now: clock.Now})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	claims := &token.AccessClaims{UserID: "1"}
	c.Put("k", Entry{Valid: true, Claims: claims})

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.True(t, e.Valid)
	assert.Same(t, claims, e.Claims)
	assert.Equal(t, clock.Now(), e.StoredAt)
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, Now: clock.Now})

	c.Put("neg", Entry{Valid: false, Err: token.ErrExpired})

	clock.Advance(59 * time.Second)
	e, ok := c.Get("neg")
	require.True(t, ok)
	assert.False(t, e.Valid)
	assert.ErrorIs(t, e.Err, token.ErrExpired)

	clock.Advance(time.Second)
	_, ok = c.Get("neg")
	assert.False(t, ok, "entry must expire exactly at TTL")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, Now: clock.Now})

	c.Put("old", Entry{Valid: true})
	clock.Advance(30 * time.Second)
	c.Put("new", Entry{Valid: true})
	clock.Advance(40 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestCache_MaxEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, MaxEntries: 2, Now: clock.Now})

	c.Put("a", Entry{Valid: true})
	clock.Advance(time.Second)
	c.Put("b", Entry{Valid: true})
	clock.Advance(time.Second)
	c.Put("c", Entry{Valid: true})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")

	// Overwriting an existing key never evicts
	c.Put("b", Entry{Valid: false})
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_MaxEntriesPrefersExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, MaxEntries: 2, Now: clock.Now})

	c.Put("stale", Entry{Valid: true})
	clock.Advance(50 * time.Second)
	c.Put("fresh", Entry{Valid: true})
	clock.Advance(20 * time.Second)
	c.Put("newest", Entry{Valid: true})

	_, ok := c.Get("fresh")
	assert.True(t, ok)
	_, ok = c.Get("newest")
	assert.True(t, ok)
}

func TestCache_StartStop(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{TTL: time.Minute, SweepInterval: 5 * time.Millisecond, Now: clock.Now})
	c.Put("k", Entry{Valid: true})
	clock.Advance(2 * time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop")
	}
}

func TestCache_StartCancelledByContext(t *testing.T) {
	c := New(Options{SweepInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweep ignored context cancellation")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 64})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := strings.Repeat(string(rune('a'+i)), 1+j%40)
				c.Put(key, Entry{Valid: j%2 == 0})
				c.Get(key)
				if j%50 == 0 {
					c.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}

func TestFingerprint(t *testing.T) {
	shared := strings.Repeat("h", KeyLength)
	a, b := shared+".payload-a.sig", shared+".payload-b.sig"

	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
