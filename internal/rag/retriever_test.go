package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, texts ...string) *MemoryVectorStore {
	t.Helper()
	store := NewMemoryVectorStore()
	now := time.Now()
	entries := make([]*IndexEntry, len(texts))
	for i, text := range texts {
		entries[i] = testEntry(HashText(text), "doc", text, ProvenancePDFNative, now)
	}
	require.NoError(t, store.Upsert(context.Background(), entries))
	return store
}

func TestRetrieveRanksExactMatchFirst(t *testing.T) {
	store := seedStore(t,
		"黛玉葬花,吟葬花词。",
		"宝钗扑蝶,于滴翠亭外。",
		"刘姥姥一进荣国府。",
	)
	r := NewRetriever(newFakeEmbedder(), store, RetrieverOptions{})

	result, err := r.Retrieve(context.Background(), "黛玉葬花,吟葬花词。", 3)
	require.NoError(t, err)
	require.Len(t, result, 3)
	require.Equal(t, "黛玉葬花,吟葬花词。", result[0].Entry.Text)
	require.InDelta(t, 1.0, result[0].Similarity, 1e-6)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := NewRetriever(newFakeEmbedder(), NewMemoryVectorStore(), RetrieverOptions{})
	_, err := r.Retrieve(context.Background(), "   ", 3)
	require.Error(t, err)
}

func TestRetrieveModelMismatch(t *testing.T) {
	store := seedStore(t, "一段入索引的文字。")
	embedder := newFakeEmbedder()
	embedder.model = "another-model"
	r := NewRetriever(embedder, store, RetrieverOptions{})

	_, err := r.Retrieve(context.Background(), "随便问点什么", 3)
	require.ErrorIs(t, err, ErrModelMismatch)
}

func TestRetrieveEmptyIndexSkipsModelCheck(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.model = "another-model"
	r := NewRetriever(embedder, NewMemoryVectorStore(), RetrieverOptions{})

	result, err := r.Retrieve(context.Background(), "随便问点什么", 3)
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestRetrieveScoreThreshold(t *testing.T) {
	store := seedStore(t,
		"黛玉葬花,吟葬花词。",
		"completely unrelated latin text 12345",
	)
	r := NewRetriever(newFakeEmbedder(), store, RetrieverOptions{ScoreThreshold: 0.99})

	result, err := r.Retrieve(context.Background(), "黛玉葬花,吟葬花词。", 10)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, "黛玉葬花,吟葬花词。", result[0].Entry.Text)
}

func TestRetrieveMaxAgeExcludesStaleEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()
	fresh := testEntry(HashText("新近摄取的一段。"), "fresh.pdf", "新近摄取的一段。", ProvenancePDFNative, now)
	stale := testEntry(HashText("早先摄取的一段。"), "stale.pdf", "早先摄取的一段。", ProvenancePDFNative, now.Add(-2*time.Hour))
	require.NoError(t, store.Upsert(ctx, []*IndexEntry{fresh, stale}))

	r := NewRetriever(newFakeEmbedder(), store, RetrieverOptions{MaxAge: time.Hour})
	result, err := r.Retrieve(ctx, "摄取的一段", 10)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, "fresh.pdf", result[0].Entry.DocumentID)

	// 不设时限时两条都可检索
	r = NewRetriever(newFakeEmbedder(), store, RetrieverOptions{})
	result, err = r.Retrieve(ctx, "摄取的一段", 10)
	require.NoError(t, err)
	require.Len(t, result, 2)
}

func TestRetrieveClampsTopK(t *testing.T) {
	texts := make([]string, 6)
	for i := range texts {
		texts[i] = sampleText(1) + string(rune('a'+i))
	}
	store := seedStore(t, texts...)
	r := NewRetriever(newFakeEmbedder(), store, RetrieverOptions{TopK: 2, MaxTopK: 4})

	// k ≤ 0 → 默认 TopK
	result, err := r.Retrieve(context.Background(), "黛玉", 0)
	require.NoError(t, err)
	require.Len(t, result, 2)

	// 超过上限被截断
	result, err = r.Retrieve(context.Background(), "黛玉", 100)
	require.NoError(t, err)
	require.Len(t, result, 4)
}
