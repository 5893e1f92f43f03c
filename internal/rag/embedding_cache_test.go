package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachedProviderAvoidsRepeatCalls(t *testing.T) {
	ctx := context.Background()
	inner := newFakeEmbedder()
	p := NewCachedEmbeddingProvider(inner, NewEmbeddingCache(nil, "emb:", 0))

	first, err := p.Embed(ctx, "好了歌")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	second, err := p.Embed(ctx, "好了歌")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, first, second)
}

func TestCachedProviderBatchOnlyRequestsMisses(t *testing.T) {
	ctx := context.Background()
	inner := newFakeEmbedder()
	p := NewCachedEmbeddingProvider(inner, NewEmbeddingCache(nil, "emb:", 0))

	_, err := p.Embed(ctx, "已缓存的文本")
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(ctx, []string{"已缓存的文本", "新文本一", "新文本二"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	// 单条 + 一次批请求(只含未命中)
	require.Equal(t, 2, inner.calls)
	require.Equal(t, embedText("已缓存的文本"), vectors[0])
	require.Equal(t, embedText("新文本一"), vectors[1])

	// 全部命中时不再触达后端
	_, err = p.EmbedBatch(ctx, []string{"新文本一", "新文本二"})
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestCacheKeyedByModel(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache(nil, "emb:", 0)

	cache.Set(ctx, "同一段文本", "model-a", []float32{1, 2})
	_, ok := cache.Get(ctx, "同一段文本", "model-b")
	require.False(t, ok)

	vec, ok := cache.Get(ctx, "同一段文本", "model-a")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2}, vec)
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache(nil, "emb:", 0)

	cache.Set(ctx, "文本", "model-a", []float32{1})
	require.NoError(t, cache.Clear(ctx))
	_, ok := cache.Get(ctx, "文本", "model-a")
	require.False(t, ok)
}
