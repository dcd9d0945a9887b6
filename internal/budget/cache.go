package budget

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
)

// DefaultTTL is the cache entry lifetime applied when none is specified.
const DefaultTTL = 24 * time.Hour

// CacheKey content-addresses an entry over (provider, model, prompt), per
// invariant: entries expire on read.
func CacheKey(provider, model, prompt string) string {
	h := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + prompt))
	return hex.EncodeToString(h[:])
}

// Cache is a strict LRU-with-TTL keyed by CacheKey. Eviction on insert at
// capacity always removes the entry with the oldest LastAccessed, which a
// W-TinyLFU cache (e.g. otter) cannot guarantee -- this is hand-rolled with
// container/list specifically to keep that invariant exact.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element // value: *connector.CacheEntry wrapped in list.Element.Value
	order    *list.List               // front = most recently accessed
}

// NewCache returns a Cache holding up to capacity entries.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  map[string]*list.Element{},
		order:    list.New(),
	}
}

// Put inserts or replaces entry, evicting the least-recently-accessed entry
// if the cache is at capacity.
func (c *Cache) Put(entry connector.CacheEntry) {
	if entry.TTL == 0 {
		entry.TTL = DefaultTTL
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[entry.Key]; ok {
		el.Value = &entry
		c.order.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	el := c.order.PushFront(&entry)
	c.entries[entry.Key] = el
}

// Get returns the entry for key if present and not expired, bumping its
// AccessCount/LastAccessed and LRU position. Expiration is checked here, on
// read.
func (c *Cache) Get(key string) (connector.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return connector.CacheEntry{}, false
	}
	entry := el.Value.(*connector.CacheEntry)
	if time.Since(entry.Ts) > entry.TTL {
		c.removeElement(el)
		return connector.CacheEntry{}, false
	}

	entry.AccessCount++
	entry.LastAccessed = time.Now()
	c.order.MoveToFront(el)
	return *entry, true
}

// SweepExpired removes every entry whose TTL has elapsed, returning the
// count removed. Called by the hourly expired-cache sweep.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var next *list.Element
	for el := c.order.Back(); el != nil; el = next {
		next = el.Prev()
		entry := el.Value.(*connector.CacheEntry)
		if time.Since(entry.Ts) > entry.TTL {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// evictOldest removes the entry with the oldest LastAccessed. Put and Get
// both MoveToFront whenever they touch LastAccessed, so the list stays
// ordered by recency and the back is always the correct victim.
func (c *Cache) evictOldest() {
	if oldest := c.order.Back(); oldest != nil {
		c.removeElement(oldest)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	entry := el.Value.(*connector.CacheEntry)
	delete(c.entries, entry.Key)
	c.order.Remove(el)
}

// Len reports the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
