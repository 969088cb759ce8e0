package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aweris/buildstore/internal/digest"
)

// Cache holds decoded object metadata keyed by identity. Objects are
// immutable, so an entry stays correct for as long as its object
// exists; callers still stat the object before trusting the cache.
type Cache interface {
	Get(id digest.Identity) (*Meta, bool)
	Add(id digest.Identity, meta *Meta)
	Remove(id digest.Identity)
	Clear()
}

// LRUCache is a size-bounded Cache.
type LRUCache struct {
	lru *lru.Cache[digest.Identity, *Meta]
}

// NewCache returns an LRU cache holding up to size entries, or a cache
// that stores nothing when size is not positive.
func NewCache(size int) (Cache, error) {
	if size <= 0 {
		return noCache{}, nil
	}
	c, err := lru.New[digest.Identity, *Meta](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: c}, nil
}

func (c *LRUCache) Get(id digest.Identity) (*Meta, bool) { return c.lru.Get(id) }
func (c *LRUCache) Add(id digest.Identity, meta *Meta)   { c.lru.Add(id, meta) }
func (c *LRUCache) Remove(id digest.Identity)            { c.lru.Remove(id) }
func (c *LRUCache) Clear()                               { c.lru.Purge() }

// Len returns the number of cached entries.
func (c *LRUCache) Len() int { return c.lru.Len() }

type noCache struct{}

func (noCache) Get(digest.Identity) (*Meta, bool) { return nil, false }
func (noCache) Add(digest.Identity, *Meta)        {}
func (noCache) Remove(digest.Identity)            {}
func (noCache) Clear()                            {}
