package embedding

import (
	"container/list"
	"sync"
)

// Cache is an LRU cache for embeddings keyed by normalized text. Catalog
// descriptions repeat across runs, so re-embedding them is wasted work.
type Cache struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.RWMutex
}

type cacheEntry struct {
	key    string
	vector []float32
}

// NewCache creates a cache holding up to capacity embeddings.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).vector, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry at capacity.
func (c *Cache) Set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).vector = vector
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, vector: vector})
	c.entries[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}
