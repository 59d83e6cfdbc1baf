package snapshot

import (
	"sync"
	"time"
)

const defaultKeyTTL = 24 * time.Hour

// KeyCache holds provider credentials between login and the syncs that need
// them, keyed by subject. Keys live in memory only and expire on their own;
// nothing here ever reaches storage or logs.
type KeyCache struct {
	mu      sync.Mutex
	entries map[string]keyEntry
	ttl     time.Duration
	clock   func() time.Time
}

type keyEntry struct {
	key       string
	expiresAt time.Time
}

// KeyCacheOption configures KeyCache.
type KeyCacheOption func(*KeyCache)

// WithKeyTTL overrides the default credential lifetime.
func WithKeyTTL(ttl time.Duration) KeyCacheOption {
	return func(c *KeyCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyClock overrides the time source, for tests.
func WithKeyClock(clock func() time.Time) KeyCacheOption {
	return func(c *KeyCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewKeyCache creates an empty cache.
func NewKeyCache(opts ...KeyCacheOption) *KeyCache {
	c := &KeyCache{
		entries: make(map[string]keyEntry),
		ttl:     defaultKeyTTL,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores a credential for the subject, resetting its lifetime.
func (c *KeyCache) Put(subject, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subject] = keyEntry{key: key, expiresAt: c.clock().Add(c.ttl)}
}

// Get returns the subject's credential if still live. Expired entries are
// dropped on access.
func (c *KeyCache) Get(subject string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[subject]
	if !ok {
		return "", false
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, subject)
		return "", false
	}
	return e.key, true
}

// Delete removes the subject's credential, used on logout.
func (c *KeyCache) Delete(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subject)
}

// Purge drops every expired entry and reports how many were removed.
func (c *KeyCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for subject, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, subject)
			removed++
		}
	}
	return removed
}
