package index

import (
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache keeps loaded indexes for the lifetime of the process, keyed by
// absolute directory. Entries are never invalidated.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Index
	group   singleflight.Group
	load    func(dir, embedModel string) (*Index, error)
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Index), load: Load}
}

// Load returns the cached index for dir, loading it on first use. Concurrent
// first loads of the same dir share one read. Failed loads are not cached.
func (c *Cache) Load(dir, embedModel string) (*Index, error) {
	key, err := filepath.Abs(dir)
	if err != nil {
		key = filepath.Clean(dir)
	}

	c.mu.RLock()
	idx, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		idx, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return idx, nil
		}

		idx, err := c.load(key, embedModel)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = idx
		c.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

var defaultCache = NewCache()

// LoadCached loads through the process-wide cache.
func LoadCached(dir, embedModel string) (*Index, error) {
	return defaultCache.Load(dir, embedModel)
}
