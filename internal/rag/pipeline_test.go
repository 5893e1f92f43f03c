package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag/parsers"
)

// newTestPipeline 组装内存后端的管道,pdf 解析被替换为纯文本桩
func newTestPipeline(t *testing.T, embedder EmbeddingProvider, store VectorStore, registry DocumentRegistry, opts PipelineOptions) *Pipeline {
	t.Helper()

	parserRegistry := parsers.NewRegistry()
	parserRegistry.Register(&textParserStub{format: "pdf"})
	normalizer := NewNormalizer(parserRegistry, nil, 0)

	chunker, err := NewChunker(ChunkerOptions{TargetTokens: 200, OverlapFraction: 0.15, PageAware: true})
	require.NoError(t, err)

	return NewPipeline(normalizer, chunker, embedder, store, registry, opts)
}

func pdfDoc(id, text string) *SourceDocument {
	return &SourceDocument{
		ID:         id,
		Provenance: ProvenancePDFNative,
		Raw:        []byte(text),
		FetchedAt:  time.Now(),
	}
}

func webDoc(id, text string) *SourceDocument {
	return &SourceDocument{
		ID:         id,
		Provenance: ProvenanceWeb,
		Raw:        []byte("<html><body><p>" + text + "</p></body></html>"),
		FetchedAt:  time.Now(),
	}
}

func defaultPipelineOpts() PipelineOptions {
	return PipelineOptions{
		Workers:         1,
		InvalidateStale: true,
		DedupEnabled:    true,
		Dedup:           DedupOptions{Threshold: 0.9},
	}
}

func TestPipelineIngestIndexesDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := newTestPipeline(t, newFakeEmbedder(), store, registry, defaultPipelineOpts())

	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("hongloumeng.pdf", sampleText(10)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Indexed)
	require.Zero(t, summary.Failed)
	require.Greater(t, summary.ChunksIndexed, 0)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, summary.ChunksIndexed, stats.Entries)
	require.Equal(t, "test-model", stats.ModelID)

	record, err := registry.Get(ctx, "hongloumeng.pdf")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, summary.ChunksIndexed, record.ChunkCount)
}

func TestPipelineRerunSkipsUnchangedDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	embedder := newFakeEmbedder()
	p := newTestPipeline(t, embedder, store, registry, defaultPipelineOpts())

	docs := []*SourceDocument{pdfDoc("hongloumeng.pdf", sampleText(10))}
	first, err := p.IngestBatch(ctx, docs)
	require.NoError(t, err)
	require.Equal(t, 1, first.Indexed)
	callsAfterFirst := embedder.calls

	second, err := p.IngestBatch(ctx, docs)
	require.NoError(t, err)
	require.Zero(t, second.Indexed)
	require.Equal(t, 1, second.Skipped)
	// 幂等跳过不再向量化
	require.Equal(t, callsAfterFirst, embedder.calls)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ChunksIndexed, stats.Entries)
}

func TestPipelineReindexesChangedDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := newTestPipeline(t, newFakeEmbedder(), store, registry, defaultPipelineOpts())

	_, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("hongloumeng.pdf", "旧版正文。贾雨村风尘怀闺秀。"),
	})
	require.NoError(t, err)

	newText := "新版正文。甄士隐梦幻识通灵。"
	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("hongloumeng.pdf", newText),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Indexed)
	require.Zero(t, summary.Skipped)

	// 旧条目被级联清除,只剩新版内容
	result, err := store.Query(ctx, embedText(newText), 10, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, newText, result[0].Entry.Text)

	record, err := registry.Get(ctx, "hongloumeng.pdf")
	require.NoError(t, err)
	require.Equal(t, HashBytes([]byte(newText)), record.ContentHash)
}

func TestPipelineCollapsesCrossSourceDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := newTestPipeline(t, newFakeEmbedder(), store, registry, defaultPipelineOpts())

	// 同一段文字来自本地 PDF 与网页两个来源
	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("native.pdf", dupText),
		webDoc("https://example.com/hlm", dupText),
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Indexed)
	require.Equal(t, 1, summary.DuplicatesCollapsed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Entries)

	// 保留可信来源,网页坍缩为别名;引用覆盖两个来源
	result, err := store.Query(ctx, embedText(dupText), 10, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, "native.pdf", result[0].Entry.DocumentID)
	require.Contains(t, result[0].Entry.Aliases, "https://example.com/hlm")
	require.ElementsMatch(t, []string{"native.pdf", "https://example.com/hlm"}, result.Sources())
}

func TestPipelineRegistersScanWithAllPagesMissing(t *testing.T) {
	ctx := context.Background()

	// 两页扫描件,OCR 全部不可用
	parserRegistry := parsers.NewRegistry()
	parserRegistry.Register(&pagedParserStub{
		format: "pdf",
		pages: []parsers.Page{
			{Number: 1, Image: []byte{1}},
			{Number: 2, Image: []byte{2}},
		},
	})
	ocr := &fakeOCRClient{failPages: map[int]bool{1: true, 2: true}}
	normalizer := NewNormalizer(parserRegistry, ocr, 0.5)
	chunker, err := NewChunker(ChunkerOptions{TargetTokens: 200, PageAware: true})
	require.NoError(t, err)

	embedder := newFakeEmbedder()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := NewPipeline(normalizer, chunker, embedder, store, registry, defaultPipelineOpts())

	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		{ID: "scan.pdf", Provenance: ProvenancePDFScanned, Raw: []byte("%PDF"), FetchedAt: time.Now()},
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Indexed)
	require.Zero(t, summary.Failed)
	require.Equal(t, 2, summary.MissingPages)
	require.Zero(t, embedder.calls)

	// 文档照常登记,零分块,缺失页可追溯
	record, err := registry.Get(ctx, "scan.pdf")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Zero(t, record.ChunkCount)
	require.Equal(t, "[1,2]", record.MissingPages)
}

func TestPipelineIsolatesDocumentErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := newTestPipeline(t, newFakeEmbedder(), store, registry, defaultPipelineOpts())

	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		{ID: "book.epub", Provenance: Provenance("epub"), Raw: []byte("x")},
		pdfDoc("good.pdf", sampleText(3)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Indexed)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Errors[KindUnsupportedFormat])

	record, err := registry.Get(ctx, "good.pdf")
	require.NoError(t, err)
	require.NotNil(t, record)
}

func TestPipelineStrictModeAbortsOnFatal(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder()
	embedder.fail = ErrEmbeddingService

	opts := defaultPipelineOpts()
	opts.Strict = true
	p := newTestPipeline(t, embedder, NewMemoryVectorStore(), NewMemoryDocumentRegistry(), opts)

	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("hongloumeng.pdf", sampleText(3)),
	})
	require.ErrorIs(t, err, ErrEmbeddingService)
	require.Equal(t, 1, summary.Failed)
}

func TestPipelineNonStrictToleratesFatal(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder()
	embedder.fail = ErrEmbeddingService
	p := newTestPipeline(t, embedder, NewMemoryVectorStore(), NewMemoryDocumentRegistry(), defaultPipelineOpts())

	summary, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("hongloumeng.pdf", sampleText(3)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Errors[KindEmbeddingService])
}

func TestPipelineRebuildReplacesIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	registry := NewMemoryDocumentRegistry()
	p := newTestPipeline(t, newFakeEmbedder(), store, registry, defaultPipelineOpts())

	_, err := p.IngestBatch(ctx, []*SourceDocument{
		pdfDoc("old.pdf", "旧文档的内容。"),
	})
	require.NoError(t, err)

	summary, err := p.Rebuild(ctx, []*SourceDocument{
		pdfDoc("new.pdf", "新文档的内容。"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Indexed)

	old, err := registry.Get(ctx, "old.pdf")
	require.NoError(t, err)
	require.Nil(t, old)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Documents)
}
