package rag

import "sync"

// localVectorCache 进程内向量缓存,容量满时整体清空一半。
// 命中率优先于精确淘汰,不做 LRU。
type localVectorCache struct {
	mu    sync.RWMutex
	items map[string][]float32
	max   int
}

func newLocalVectorCache(max int) *localVectorCache {
	if max <= 0 {
		max = defaultLocalCacheSize
	}
	return &localVectorCache{
		items: make(map[string][]float32),
		max:   max,
	}
}

func (c *localVectorCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.items[key]
	return vec, ok
}

func (c *localVectorCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.max {
		n := 0
		for k := range c.items {
			delete(c.items, k)
			n++
			if n >= c.max/2 {
				break
			}
		}
	}
	c.items[key] = vec
}

func (c *localVectorCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string][]float32)
}
