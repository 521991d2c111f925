package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultCacheTTL = 5 * time.Minute

type MemCache struct {
	docCache *expirable.LRU[string, *CacheEntry]
}

func NewMemCache(size int, ttl time.Duration) *MemCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &MemCache{
		docCache: expirable.NewLRU[string, *CacheEntry](size, nil, ttl),
	}
}

// GetDoc hands back entries until the cache ttl runs out. Lapsed entries are
// left for the caller to judge with CacheEntry.Fresh.
func (mc *MemCache) GetDoc(key string) (*CacheEntry, bool) {
	return mc.docCache.Get(key)
}

func (mc *MemCache) PutDoc(did string, mode Mode, entry *CacheEntry) error {
	mc.docCache.Add(CacheKey(did, mode), entry)
	return nil
}

func (mc *MemCache) BustDoc(did string) error {
	mc.docCache.Remove(CacheKey(did, ModeReference))
	mc.docCache.Remove(CacheKey(did, ModeExplicit))
	return nil
}

func (mc *MemCache) Len() int {
	return mc.docCache.Len()
}
