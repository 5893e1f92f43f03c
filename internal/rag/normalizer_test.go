package rag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag/parsers"
)

func TestCleanText(t *testing.T) {
	t.Run("修复跨行断字", func(t *testing.T) {
		require.Equal(t, "internal state", CleanText("inter-\nnal state"))
	})

	t.Run("段内换行并入同段", func(t *testing.T) {
		out := CleanText("第一行\n第二行\n\n新段落")
		require.Equal(t, "第一行 第二行\n\n新段落", out)
	})

	t.Run("折叠连续空白", func(t *testing.T) {
		out := CleanText("甲  乙\t丙　丁")
		require.Equal(t, "甲 乙 丙 丁", out)
	})

	t.Run("多个空行折叠为段落边界", func(t *testing.T) {
		out := CleanText("上段\n\n\n\n下段")
		require.Equal(t, "上段\n\n下段", out)
	})
}

func TestNormalizeHTML(t *testing.T) {
	n := NewNormalizer(parsers.NewRegistry(), nil, 0)
	doc := &SourceDocument{
		ID:         "https://example.com/hongloumeng",
		Provenance: ProvenanceWeb,
		Raw: []byte(`<html><head><script>alert(1)</script></head>
			<body><nav>导航</nav><main><p>满纸荒唐言,一把辛酸泪。</p></main></body></html>`),
		FetchedAt: time.Now(),
	}

	out, err := n.Normalize(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, out.Pages, 1)
	require.Contains(t, out.Pages[0].Text, "满纸荒唐言")
	require.NotContains(t, out.Pages[0].Text, "alert")
	require.NotContains(t, out.Pages[0].Text, "导航")
	require.Equal(t, doc.ContentHash(), out.ContentHash)
}

func TestNormalizeUnsupportedProvenance(t *testing.T) {
	n := NewNormalizer(parsers.NewRegistry(), nil, 0)
	_, err := n.Normalize(context.Background(), &SourceDocument{
		ID:         "doc-1",
		Provenance: Provenance("epub"),
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizeEmptyExtractionWithoutOCR(t *testing.T) {
	registry := parsers.NewRegistry()
	registry.Register(&pagedParserStub{
		format: "pdf",
		pages:  []parsers.Page{{Number: 1, Image: []byte{1}}},
	})
	n := NewNormalizer(registry, nil, 0)

	_, err := n.Normalize(context.Background(), &SourceDocument{
		ID:         "scan.pdf",
		Provenance: ProvenancePDFScanned,
		Raw:        []byte("%PDF"),
	})
	require.ErrorIs(t, err, ErrEmptyExtraction)
}

func TestNormalizePartialOCR(t *testing.T) {
	// 10 页扫描件,第 3、7 页 OCR 不可用:文档照常摄取,两页记缺失
	pages := make([]parsers.Page, 0, 10)
	for i := 1; i <= 10; i++ {
		pages = append(pages, parsers.Page{Number: i, Image: []byte{byte(i)}})
	}
	registry := parsers.NewRegistry()
	registry.Register(&pagedParserStub{format: "pdf", pages: pages})

	ocr := &fakeOCRClient{failPages: map[int]bool{3: true, 7: true}}
	n := NewNormalizer(registry, ocr, 0.5)

	out, err := n.Normalize(context.Background(), &SourceDocument{
		ID:         "scan.pdf",
		Provenance: ProvenancePDFScanned,
		Raw:        []byte("%PDF"),
	})
	require.NoError(t, err)
	require.Len(t, out.Pages, 10)
	require.Equal(t, []int{3, 7}, out.MissingPages())
	require.Equal(t, 10, ocr.calls)

	for _, page := range out.Pages {
		if page.Missing {
			continue
		}
		require.True(t, page.FromOCR)
		require.Contains(t, page.Text, fmt.Sprintf("第%d页", page.Number))
		require.InDelta(t, 0.9, page.Confidence, 1e-9)
	}
}

func TestNormalizeLowConfidenceOCRMarkedMissing(t *testing.T) {
	registry := parsers.NewRegistry()
	registry.Register(&pagedParserStub{
		format: "pdf",
		pages: []parsers.Page{
			{Number: 1, Image: []byte{1}},
			{Number: 2, Text: "有文本层的页。"},
		},
	})
	// 置信度阈值高于假 OCR 的 0.9
	n := NewNormalizer(registry, &fakeOCRClient{}, 0.95)

	out, err := n.Normalize(context.Background(), &SourceDocument{
		ID:         "mixed.pdf",
		Provenance: ProvenancePDFScanned,
		Raw:        []byte("%PDF"),
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, out.MissingPages())
	require.False(t, out.Pages[1].Missing)
	require.False(t, out.Pages[1].FromOCR)
}
