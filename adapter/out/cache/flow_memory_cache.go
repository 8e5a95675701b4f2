// Package cache holds the score cache providers: an in-process LRU and a Redis-backed one.
package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"flow_server/core/port/out"
)

// MemoryConfig configures the in-process cache.
type MemoryConfig struct {
	MaxEntries      int           // default 10000
	CleanupInterval time.Duration // default 30s, negative disables the sweeper
	Now             func() time.Time
}

// MemoryCache is a TTL + LRU score cache for single-instance deployments and tests.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	max     int
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once

	hits   int64
	misses int64
}

type memoryEntry struct {
	key       string
	score     float64
	expiresAt time.Time
}

var _ out.ScoreCache = (*MemoryCache)(nil)

func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &MemoryCache{
		items: make(map[string]*list.Element),
		order: list.New(),
		max:   cfg.MaxEntries,
		now:   cfg.Now,
		stop:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return 0, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(el)
		c.misses++
		return 0, false, nil
	}

	c.order.MoveToFront(el)
	c.hits++
	return entry.score, true, nil
}

// Set stores a score. A non-positive ttl removes the key instead.
func (c *MemoryCache) Set(_ context.Context, key string, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
		return nil
	}

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.score = score
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	// 용량 초과 시 LRU 제거
	for len(c.items) >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}

	c.items[key] = c.order.PushFront(&memoryEntry{key: key, score: score, expiresAt: expiresAt})
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// ClearPattern removes keys matching a glob pattern ("flow:score:*") and returns how many were removed.
func (c *MemoryCache) ClearPattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeElement(el)
			removed++
		}
	}
	return removed, nil
}

// MemoryStats is a point-in-time view of the cache.
type MemoryStats struct {
	Items   int     `json:"items"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := MemoryStats{Items: len(c.items), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the background sweeper.
func (c *MemoryCache) Close() error {
	c.stopped.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *MemoryCache) cleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, el := range c.items {
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}
