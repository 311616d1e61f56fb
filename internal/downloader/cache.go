package downloader

import (
	"context"
	"sync"

	"github.com/seastate/ocean-twin-etl/internal/observability"
)

// ProductDescriber is the part of the store API that serves product metadata.
type ProductDescriber interface {
	DescribeProduct(ctx context.Context, id string) (Product, error)
}

// CachedDescriber wraps a ProductDescriber with an in-memory LRU cache.
// Product catalogs change rarely, so repeated subset runs reuse metadata
// instead of hitting the portal again.
type CachedDescriber struct {
	inner   ProductDescriber
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedDescriber creates a cache decorator around a store client.
func NewCachedDescriber(inner ProductDescriber, maxEntries int, metrics *observability.Metrics) *CachedDescriber {
	return &CachedDescriber{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedDescriber) DescribeProduct(ctx context.Context, id string) (Product, error) {
	if p, ok := c.cache.get(id); ok {
		c.metrics.StoreCache.WithLabelValues("hit").Inc()
		return p, nil
	}
	c.metrics.StoreCache.WithLabelValues("miss").Inc()

	p, err := c.inner.DescribeProduct(ctx, id)
	if err != nil {
		return p, err
	}
	// Only cache hydrated descriptions so a transient empty response can be
	// retried.
	if p.ID != "" {
		c.cache.put(id, p)
	}
	return p, nil
}

// lruCache is a simple thread-safe LRU cache for product descriptions.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value Product
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Product{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
