// ABOUTME: Thread-safe size-limited cache of seen message ids
// ABOUTME: Guards a subscription attach against delivering the same row twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a key's insertion time with its position in the eviction list.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks message ids already delivered on one subscription attach so a
// replayed insert event is dropped instead of surfacing twice. It is size
// limited with oldest-first eviction and optionally expires entries after a
// TTL; expiry is applied lazily on access, so no background goroutine runs.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a cache holding at most maxSize keys. A zero ttl means entries
// never expire and only size-based eviction applies.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen atomically checks whether key was already recorded and records it if
// not. Returns true for a duplicate, false if the key is new and now marked.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.expire(now)

	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(time.Now())
	return len(c.seen)
}

// expire drops entries older than the TTL. Must be called with mu held.
// Entries are ordered oldest-first, so scanning stops at the first live one.
func (c *Cache) expire(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.seen[key].seenAt) <= c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
