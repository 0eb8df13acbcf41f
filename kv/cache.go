package kv

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Store with a bounded LRU read cache in front of Get, the
// way the multi-store router keeps a hot-entity cache in front of the
// Active store (see multistore.Router). Writes invalidate the cache entry
// before falling through to the underlying store so readers never observe
// stale data after a Put/Delete.
type Cached struct {
	Store
	cache *lru.Cache[string, []byte]
}

// NewCached wraps store with an LRU cache holding up to size recent reads.
func NewCached(store Store, size int) (*Cached, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Store: store, cache: c}, nil
}

func (c *Cached) Get(key []byte) ([]byte, bool, error) {
	if v, ok := c.cache.Get(string(key)); ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, true, nil
	}
	v, ok, err := c.Store.Get(key)
	if err != nil || !ok {
		return v, ok, err
	}
	c.cache.Add(string(key), v)
	return v, true, nil
}

func (c *Cached) Put(key, value []byte) error {
	c.cache.Remove(string(key))
	return c.Store.Put(key, value)
}

func (c *Cached) Delete(key []byte) error {
	c.cache.Remove(string(key))
	return c.Store.Delete(key)
}
