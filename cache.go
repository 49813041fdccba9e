package gsvk

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// handleCache is an append-only map from selector bits to a compiled object.
// Concurrent misses on the same key build once; failures are cached as the
// zero handle so they are not retried.
type handleCache[K comparable, V comparable] struct {
	mu    sync.Mutex
	m     map[K]V
	group singleflight.Group
}

func (c *handleCache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *handleCache[K, V]) lookupOrBuild(key K, build func() V) V {
	if v, ok := c.lookup(key); ok {
		return v
	}
	v, _, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v := build()
		c.mu.Lock()
		if c.m == nil {
			c.m = make(map[K]V)
		}
		c.m[key] = v
		c.mu.Unlock()
		return v, nil
	})
	return v.(V) //nolint:forcetypeassert // the group only returns V
}

func (c *handleCache[K, V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *handleCache[K, V]) keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]K, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	return out
}

func (c *handleCache[K, V]) values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]V, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}
