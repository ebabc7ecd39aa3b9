package biz

import (
	"context"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// LookupCache memoizes provider lookups for the lifetime of one run.
// Concurrent lookups of the same key share a single call.
type LookupCache struct {
	mu      sync.RWMutex
	entries map[string]interface{}
	group   singleflight.Group
	log     *log.Helper
}

// NewLookupCache creates an empty cache.
func NewLookupCache(logger log.Logger) *LookupCache {
	return &LookupCache{
		entries: make(map[string]interface{}),
		log:     log.NewHelper(log.With(logger, "module", "biz/lookup-cache")),
	}
}

func cacheKey(provider, key string) string {
	return provider + "\x00" + key
}

// Get returns a cached value.
func (c *LookupCache) Get(provider, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey(provider, key)]
	return v, ok
}

// Len returns the number of cached entries.
func (c *LookupCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Do returns the cached value for (provider, key) or computes it with fn.
// Successful results, nil included, are cached. Errors are not.
func (c *LookupCache) Do(ctx context.Context, provider, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(provider, key); ok {
		return v, nil
	}
	k := cacheKey(provider, key)
	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		if v, ok := c.Get(provider, key); ok {
			return v, nil
		}
		c.log.Debugw("msg", "lookup cache miss", "provider", provider, "key", key)
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[k] = v
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

// cooldowns remembers providers that reported a rate limit or exhausted quota.
type cooldowns struct {
	mu      sync.Mutex
	tripped map[string]error
	log     *log.Helper
}

func newCooldowns(logger *log.Helper) *cooldowns {
	return &cooldowns{tripped: make(map[string]error), log: logger}
}

// call runs fn unless the provider is cooling down. A rate-limit error trips the provider for the
// rest of the run.
func (c *cooldowns) call(provider string, fn func() error) error {
	c.mu.Lock()
	cause, ok := c.tripped[provider]
	c.mu.Unlock()
	if ok {
		return ErrorProviderCoolingDown("%s cooling down after: %v", provider, cause)
	}

	err := fn()
	if IsProviderRateLimited(err) {
		c.mu.Lock()
		if _, already := c.tripped[provider]; !already {
			c.tripped[provider] = err
			c.log.Warnf("provider %s rate limited, skipping it for the rest of the run: %v", provider, err)
		}
		c.mu.Unlock()
	}
	return err
}

func (c *cooldowns) isTripped(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tripped[provider]
	return ok
}
