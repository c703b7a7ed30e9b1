package relay

import (
	"sync"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AddressCache = (*AddressCache)(nil)

type cachedAddress struct {
	addr     model.NodeAddress
	storedAt time.Time
}

// AddressCache is a bounded owner -> callback address map. Entries older
// than ttl are treated as absent.
type AddressCache struct {
	mu      sync.Mutex
	entries map[string]cachedAddress
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewAddressCache creates a cache holding at most max entries.
func NewAddressCache(ttl time.Duration, max int) *AddressCache {
	return &AddressCache{
		entries: make(map[string]cachedAddress),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

// Put records addr for ownerID. When full, expired entries are dropped first,
// then the oldest entry.
func (c *AddressCache) Put(ownerID string, addr model.NodeAddress) {
	if addr.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.entries[ownerID]; !ok && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[ownerID] = cachedAddress{addr: addr, storedAt: now}
}

// Get returns the live address for ownerID.
func (c *AddressCache) Get(ownerID string) (model.NodeAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ownerID]
	if !ok {
		return model.NodeAddress{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, ownerID)
		return model.NodeAddress{}, false
	}
	return e.addr, true
}

// Len reports the number of stored entries, expired ones included.
func (c *AddressCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *AddressCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
