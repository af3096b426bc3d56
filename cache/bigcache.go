package cache

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
)

type BigCache struct {
	Cache *bigcache.BigCache
}

func NewBigCache(ttl time.Duration) (*BigCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	// scores are tiny; keep the footprint small
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10 * 60 * 64
	cfg.CleanWindow = ttl
	if cfg.CleanWindow < time.Second {
		cfg.CleanWindow = time.Second
	}
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &BigCache{Cache: cache}, nil
}

func (s *BigCache) Set(key string, entry []byte) (err error) {
	return s.Cache.Set(key, entry)
}

func (s *BigCache) Get(key string) ([]byte, error) {
	return s.Cache.Get(key)
}

func (s *BigCache) Delete(key string) error {
	return s.Cache.Delete(key)
}
