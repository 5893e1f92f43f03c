package rag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const dupText = "贾宝玉因梦游太虚幻境,看见金陵十二钗正册与副册,又闻红楼梦仙曲十二支,莫名其妙。"

func dedupChunk(docID string, provenance Provenance, text string) *Chunk {
	return &Chunk{
		DocumentID:  docID,
		Provenance:  provenance,
		Text:        text,
		ContentHash: HashText(docID + text),
	}
}

func TestDedupKeepsDistinctChunks(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	first := d.Add(dedupChunk("a", ProvenanceWeb, dupText))
	require.True(t, first.Keep)

	second := d.Add(dedupChunk("b", ProvenanceWeb,
		"林黛玉葬花一回,荷锄携囊,于沁芳闸畔埋落花,吟葬花词以寄身世之感。"))
	require.True(t, second.Keep)
	require.Empty(t, second.Aliases)
}

func TestDedupAbsorbsLowerRankDuplicate(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	kept := dedupChunk("native.pdf", ProvenancePDFNative, dupText)
	require.True(t, d.Add(kept).Keep)

	// 同文,来源可信度更低 → 被吸收为别名
	res := d.Add(dedupChunk("https://example.com/hlm", ProvenanceWeb, dupText))
	require.False(t, res.Keep)
	require.Equal(t, kept.ContentHash, res.KeptBy)
	require.Equal(t, []string{"https://example.com/hlm"}, res.Aliases)
}

func TestDedupSupersedesByTrustRank(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	web := dedupChunk("https://example.com/hlm", ProvenanceWeb, dupText)
	require.True(t, d.Add(web).Keep)

	// 同文,来源可信度更高 → 取代旧条目并继承其文档为别名
	native := dedupChunk("native.pdf", ProvenancePDFNative, dupText)
	res := d.Add(native)
	require.True(t, res.Keep)
	require.Equal(t, web.ContentHash, res.Supersedes)
	require.Contains(t, res.Aliases, "https://example.com/hlm")

	// 再来一份重复,被新的保留者吸收
	third := d.Add(dedupChunk("scan.pdf", ProvenancePDFScanned, dupText))
	require.False(t, third.Keep)
	require.Equal(t, native.ContentHash, third.KeptBy)
}

func TestDedupNearDuplicate(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.8})

	require.True(t, d.Add(dedupChunk("a", ProvenancePDFNative, dupText)).Keep)

	// 末尾略有差异的近重复(排版噪声)
	res := d.Add(dedupChunk("b", ProvenanceWeb, dupText+"(注)"))
	require.False(t, res.Keep)
}

func TestDedupIgnoresWhitespaceAndCase(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	require.True(t, d.Add(dedupChunk("a", ProvenancePDFNative, "The Story of the Stone, Chapter One.")).Keep)
	res := d.Add(dedupChunk("b", ProvenanceWeb, "the story  of the\nstone, chapter one."))
	require.False(t, res.Keep)
}

func TestDedupNeverWritesToKeptChunk(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	kept := dedupChunk("native.pdf", ProvenancePDFNative, dupText)
	require.True(t, d.Add(kept).Keep)

	res := d.Add(dedupChunk("https://example.com/hlm", ProvenanceWeb, dupText))
	require.False(t, res.Keep)
	require.Equal(t, []string{"https://example.com/hlm"}, res.Aliases)
	// 裁决只通过返回值传递,已保留分块本体不被改写
	require.Empty(t, kept.Aliases)

	// 台账仍然去重:同一文档再次判重不重复上报别名
	again := d.Add(dedupChunk("https://example.com/hlm", ProvenanceWeb, dupText))
	require.False(t, again.Keep)
	require.Empty(t, again.Aliases)
}

func TestDedupConcurrentDocuments(t *testing.T) {
	// 复现管道的并发模式:每个协程裁决自己的分块后
	// 无锁读取该分块,与其他文档的裁决并行
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})

	const docs = 8
	results := make([]AddResult, docs)
	var wg sync.WaitGroup
	for i := 0; i < docs; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := dedupChunk(fmt.Sprintf("doc-%d", i), ProvenanceWeb, dupText)
			res := d.Add(chunk)
			if res.Keep {
				chunk.Aliases = append(chunk.Aliases, res.Aliases...)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	keeps := 0
	for _, res := range results {
		if res.Keep {
			keeps++
			continue
		}
		require.NotEmpty(t, res.KeptBy)
		require.Len(t, res.Aliases, 1)
	}
	require.Equal(t, 1, keeps)
}

func TestDedupReset(t *testing.T) {
	d := NewDeduplicator(DedupOptions{Threshold: 0.9})
	require.True(t, d.Add(dedupChunk("a", ProvenanceWeb, dupText)).Keep)

	d.Reset()
	require.True(t, d.Add(dedupChunk("b", ProvenanceWeb, dupText)).Keep)
}
