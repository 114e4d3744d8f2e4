// Package cache keeps recently used blob records close to the router.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats holds cache statistics.
type Stats struct {
	Hits      int64 // Number of cache hits
	Misses    int64 // Number of cache misses
	Size      int   // Current number of entries
	Capacity  int   // Maximum capacity
	Evictions int64 // Number of evicted entries
	Expired   int64 // Number of expired entries
}

// LRU is a threadsafe least-recently-used map with optional TTL.
type LRU[V any] struct {
	mu          sync.Mutex
	ll          *list.List
	items       map[string]*list.Element
	capacity    int
	ttl         time.Duration
	stats       Stats
	now         func() time.Time
	cleanupStop context.CancelFunc
	cleanupDone chan struct{}
}

type entry[V any] struct {
	key    string
	value  V
	expire time.Time
}

// NewLRU returns a cache holding at most capacity entries for ttl each.
// If ttl > 0, a background goroutine periodically drops expired entries.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	c := &LRU[V]{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
	if ttl > 0 {
		c.cleanupDone = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		c.cleanupStop = cancel
		go c.cleanupExpired(ctx, ttl)
	}
	return c
}

// Get retrieves a value if present and not expired.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	ele, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	ent := ele.Value.(*entry[V])
	if c.ttl > 0 && c.now().After(ent.expire) {
		c.removeElement(ele)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}
	c.ll.MoveToFront(ele)
	c.stats.Hits++
	return ent.value, true
}

// Set inserts or updates an entry.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expire time.Time
	if c.ttl > 0 {
		expire = c.now().Add(c.ttl)
	}
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		ent := ele.Value.(*entry[V])
		ent.value = value
		ent.expire = expire
		return
	}
	if c.ll.Len() >= c.capacity {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.ll.PushFront(&entry[V]{key: key, value: value, expire: expire})
}

// Delete removes a key if present.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.ll = list.New()
}

func (c *LRU[V]) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry[V]).key)
}

// Stats returns current cache statistics.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	s.Capacity = c.capacity
	return s
}

// Len returns the current number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[V]) cleanupExpired(ctx context.Context, ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupOnce()
		}
	}
}

// cleanupOnce removes all expired entries in one pass.
func (c *LRU[V]) cleanupOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	for _, ele := range c.items {
		if now.After(ele.Value.(*entry[V]).expire) {
			c.removeElement(ele)
			c.stats.Expired++
		}
	}
}

// Close stops the background cleanup goroutine and waits for it to finish.
// It's safe to call Close multiple times.
func (c *LRU[V]) Close() error {
	c.mu.Lock()
	stop, done := c.cleanupStop, c.cleanupDone
	c.cleanupStop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return nil
}
