package rag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLocalCacheSize = 8192

// EmbeddingCache 向量缓存,Redis 为主、进程内 map 为 L1。
// 键由模型 + 文本内容哈希构成,模型切换后旧缓存自然失效。
type EmbeddingCache struct {
	redis    *redis.Client // nil 时只用本地缓存
	prefix   string
	ttl      time.Duration
	maxLocal int

	local *localVectorCache
}

type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存
func NewEmbeddingCache(redisClient *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:    redisClient,
		prefix:   prefix,
		ttl:      ttl,
		maxLocal: defaultLocalCacheSize,
		local:    newLocalVectorCache(defaultLocalCacheSize),
	}
}

func (c *EmbeddingCache) makeKey(text, model string) string {
	return c.prefix + model + ":" + HashText(text)
}

// Get 查询缓存向量
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	if vec, ok := c.local.get(key); ok {
		return vec, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil {
				c.local.put(key, cached.Vector)
				return cached.Vector, true
			}
		}
	}
	return nil, false
}

// Set 写入缓存。Redis 写失败只影响下次命中率,不上抛。
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) {
	key := c.makeKey(text, model)
	c.local.put(key, vector)

	if c.redis != nil {
		data, err := json.Marshal(cachedEmbedding{
			Vector:    vector,
			Model:     model,
			CreatedAt: time.Now(),
		})
		if err == nil {
			c.redis.Set(ctx, key, data, c.ttl)
		}
	}
}

// Clear 清空缓存(本地 + Redis 前缀键),索引重建时调用
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	c.local.clear()

	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.redis.Del(ctx, keys...).Err()
	}
	return nil
}

// CachedEmbeddingProvider 带缓存的向量化服务包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 包装向量化服务
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{provider: provider, cache: cache}
}

// Embed 单条向量化(带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.provider.GetModel()
	if vec, ok := p.cache.Get(ctx, text, model); ok {
		return vec, nil
	}
	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, text, model, vec)
	return vec, nil
}

// EmbedBatch 批量向量化,只对缓存未命中的文本发起请求
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.provider.GetModel()

	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, text, model); ok {
			result[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := p.provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		result[missingIdx[j]] = vec
		p.cache.Set(ctx, missing[j], model, vec)
	}
	return result, nil
}

// GetModel 返回底层模型标识
func (p *CachedEmbeddingProvider) GetModel() string {
	return p.provider.GetModel()
}

// GetProviderName 返回底层提供商名称
func (p *CachedEmbeddingProvider) GetProviderName() string {
	return p.provider.GetProviderName()
}
