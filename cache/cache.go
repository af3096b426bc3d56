package cache

import (
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

var ErrMiss = errors.New("cache_miss")

type Cache struct {
	Cache ICache
}

type ICache interface {
	Set(key string, entry []byte) error

	Get(key string) ([]byte, error)

	Delete(key string) error
}

// NewLocalCache builds a process-local cache whose entries all expire after ttl.
func NewLocalCache(ttl time.Duration) (*Cache, error) {
	cache, err := NewBigCache(ttl)
	if err != nil {
		return nil, err
	}
	return &Cache{Cache: cache}, nil
}

// Get returns ErrMiss for absent or expired keys.
func (c *Cache) Get(key string) ([]byte, error) {
	v, err := c.Cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrMiss
	}
	return v, err
}

func (c *Cache) Set(key string, entry []byte) error {
	return c.Cache.Set(key, entry)
}

func (c *Cache) Delete(key string) error {
	err := c.Cache.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}
