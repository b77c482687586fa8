package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mjuric/neandertools/internal/metrics"
)

// DefaultCacheEntries bounds the cache when the caller passes zero.
// Survey detector reads run to tens of megabytes each, so the bound is
// on image count rather than bytes.
const DefaultCacheEntries = 16

type imageKey struct {
	visit    int64
	detector int
}

type cacheEntry struct {
	ready chan struct{} // closed once img and err are set
	img   *Image
	err   error

	lastUsed int64 // sequence number, guarded by Cache.mu
}

// Cache wraps a Backend and memoizes Load by (visit, detector).
// Concurrent loads of the same image coalesce onto one backend call.
// Failed loads are not retained, so a later request retries. Query,
// Capabilities and Close pass through, which lets a Cache stand in
// anywhere a Backend is expected.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	max     int

	mu      sync.Mutex
	seq     int64
	entries map[imageKey]*cacheEntry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewCache wraps backend with an image cache holding at most maxEntries
// images. maxEntries <= 0 selects DefaultCacheEntries.
func NewCache(backend Backend, maxEntries int, logger *slog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cache{
		backend: backend,
		logger:  logger,
		max:     maxEntries,
		entries: make(map[imageKey]*cacheEntry),
	}
}

// Query passes through to the wrapped backend.
func (c *Cache) Query(ctx context.Context, q Query) ([]Match, error) {
	return c.backend.Query(ctx, q)
}

// Capabilities passes through to the wrapped backend.
func (c *Cache) Capabilities() Capability { return c.backend.Capabilities() }

// Close drops all cached images and closes the wrapped backend.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.entries = make(map[imageKey]*cacheEntry)
	c.mu.Unlock()
	c.publish()
	return c.backend.Close()
}

// Load returns the image for (visit, detector), loading through the
// backend on first use. When another goroutine is already loading the
// same image, Load waits for that result instead of issuing a second
// backend read; the wait aborts on ctx cancellation.
func (c *Cache) Load(ctx context.Context, visit int64, detector int) (*Image, error) {
	key := imageKey{visit: visit, detector: detector}

	c.mu.Lock()
	c.seq++
	if e, ok := c.entries[key]; ok {
		e.lastUsed = c.seq
		c.mu.Unlock()
		c.hits.Add(1)
		metrics.IncCacheHits()
		select {
		case <-e.ready:
			return e.img, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &cacheEntry{ready: make(chan struct{}), lastUsed: c.seq}
	c.entries[key] = e
	c.evictLocked()
	c.mu.Unlock()
	c.misses.Add(1)
	metrics.IncCacheMisses()

	e.img, e.err = c.backend.Load(ctx, visit, detector)
	close(e.ready)

	if e.err != nil {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.publish()
		return nil, e.err
	}

	c.publish()
	c.logger.Debug("image cached",
		"visit", visit,
		"detector", detector,
		"bytes", imageBytes(e.img))
	return e.img, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	size := c.sizeBytesLocked()
	c.mu.Unlock()
	return CacheStats{
		Entries:   n,
		SizeBytes: size,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evictLocked removes least recently used completed entries until the
// cache is back within its bound. In-flight loads are never evicted.
func (c *Cache) evictLocked() {
	removed := 0
	for len(c.entries) > c.max {
		var (
			oldestKey imageKey
			oldest    *cacheEntry
		)
		for k, e := range c.entries {
			select {
			case <-e.ready:
			default:
				continue // still loading
			}
			if oldest == nil || e.lastUsed < oldest.lastUsed {
				oldestKey, oldest = k, e
			}
		}
		if oldest == nil {
			break // everything over the bound is in flight
		}
		delete(c.entries, oldestKey)
		removed++
	}
	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
	}
}

func (c *Cache) sizeBytesLocked() int64 {
	var total int64
	for _, e := range c.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		total += imageBytes(e.img)
	}
	return total
}

func (c *Cache) publish() {
	c.mu.Lock()
	n := len(c.entries)
	size := c.sizeBytesLocked()
	c.mu.Unlock()
	metrics.SetCacheEntries(n)
	metrics.SetCacheSizeBytes(size)
}

func imageBytes(im *Image) int64 {
	if im == nil {
		return 0
	}
	return int64(len(im.Pix))*4 + 256 // pixels plus metadata overhead
}
