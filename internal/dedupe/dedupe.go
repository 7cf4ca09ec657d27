// ABOUTME: TTL-bounded request-ID cache for suppressing duplicate deliveries
// ABOUTME: Channels may redeliver on retry; first-seen wins within the window

package dedupe

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a request ID stays remembered.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds memory under a flood of unique IDs.
	DefaultMaxEntries = 10000

	cleanupInterval = time.Minute
)

type entry struct {
	id   string
	seen time.Time
}

// Cache remembers recently seen request IDs. Seen and Mark are split so a
// caller can test an ID up front but record it only once the request
// actually succeeded; CheckAndMark does both at once. Entries expire after
// the TTL or when the cache is full, oldest first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest
	ttl     time.Duration
	max     int

	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewCache creates a cache with the given TTL and entry cap. Zero values
// select the defaults. Close must be called to stop the cleanup loop.
func NewCache(ttl time.Duration, maxEntries int, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		max:     maxEntries,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With("component", "dedupe"),
	}
	go c.cleanupLoop()
	return c
}

// CheckAndMark reports whether id was seen within the TTL, marking it seen
// if it was not. An empty id is never deduplicated.
func (c *Cache) CheckAndMark(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.entries[id]; ok && now.Sub(el.Value.(*entry).seen) < c.ttl {
		return true
	}
	c.markLocked(id, now)
	return false
}

// Seen reports whether id was seen within the TTL. It never mutates the
// cache, so a retry of a failed request is not penalized by its own probe.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	return ok && time.Since(el.Value.(*entry).seen) < c.ttl
}

// Mark records id as seen, refreshing an existing entry. An empty id is
// ignored.
func (c *Cache) Mark(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id, time.Now())
}

func (c *Cache) markLocked(id string, now time.Time) {
	if el, ok := c.entries[id]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
		return
	}
	for len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[id] = c.order.PushBack(&entry{id: id, seen: now})
}

// Len returns the number of remembered IDs, expired ones included until the
// next cleanup pass.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background cleanup loop.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}

func (c *Cache) cleanupLoop() {
	defer close(c.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	removed := 0
	for el := c.order.Front(); el != nil; {
		ent := el.Value.(*entry)
		if ent.seen.After(cutoff) {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, ent.id)
		el = next
		removed++
	}
	if removed > 0 {
		c.logger.Debug("expired request IDs removed", "count", removed, "remaining", len(c.entries))
	}
}

func (c *Cache) evictOldest() {
	el := c.order.Front()
	if el == nil {
		return
	}
	ent := c.order.Remove(el).(*entry)
	delete(c.entries, ent.id)
}
